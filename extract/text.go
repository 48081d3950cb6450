package extract

import (
	"regexp"
	"strings"
)

// The site renders Thermomix mode icons as private-use glyphs. Paprika has
// no font for them, so they are replaced with their names.
var privateUseChars = map[rune]string{
	'': "knead",
	'': "stir",
	'': "reverse",
	'': "forward",
	'': "Varoma",
	'': "Turbo",
	'': "Sugar Stages",
	'': "Rice Cooker",
	'': "Pre-clean",
	'': "Steam",
	'': "Kettle",
	'': "Slow Cook",
	'': "Warm Up",
	'': "Blend",
	'': "High Heat",
	'': "Sous Vide",
	'': "Ferment",
	'': "Thicken",
	'': "Timer",
	'': "Egg Boiler",
	'': "Grating",
	'': "Slicing",
	'': "Peeler",
	'': "Spiralize",
	'': "Spiralize",
	'': "Open Cooking",
}

var (
	multiSpaceRe = regexp.MustCompile(` +`)
	hoursRe      = regexp.MustCompile(`([0-9]+) *h[a-z]*`)
	minutesRe    = regexp.MustCompile(`([0-9]+) *mi[a-z]*`)
	timeNlRe     = regexp.MustCompile(` *\n *`)
	isoDurRe     = regexp.MustCompile(`^PT(?:([0-9]+)H)?(?:([0-9]+)M)?(?:[0-9]+S)?$`)
)

// fixText replaces private-use glyphs with words and normalizes whitespace.
func fixText(s string) string {
	var b strings.Builder
	for _, r := range s {
		if word, ok := privateUseChars[r]; ok {
			b.WriteString(word)
			continue
		}
		if r == ' ' {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return multiSpaceRe.ReplaceAllString(b.String(), " ")
}

// fixTime normalizes time strings to the "N hr" / "N min" convention.
func fixTime(s string) string {
	s = hoursRe.ReplaceAllString(s, "$1 hr")
	s = minutesRe.ReplaceAllString(s, "$1 min")
	return timeNlRe.ReplaceAllString(s, " ")
}

// durationText turns an ISO-8601 duration like PT1H20M into "1 hr 20 min".
// Anything it can't parse comes back unchanged.
func durationText(iso string) string {
	m := isoDurRe.FindStringSubmatch(strings.TrimSpace(iso))
	if m == nil {
		return iso
	}
	var parts []string
	if m[1] != "" {
		parts = append(parts, m[1]+" hr")
	}
	if m[2] != "" {
		parts = append(parts, m[2]+" min")
	}
	if len(parts) == 0 {
		return iso
	}
	return strings.Join(parts, " ")
}
