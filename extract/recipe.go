package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/jsonquery"
	"github.com/cookidump/cookidump/types"
)

var (
	prepPrefixRe  = regexp.MustCompile(`^Prep\.* *`)
	totalPrefixRe = regexp.MustCompile(`Total *`)
	categoriesRe  = regexp.MustCompile(`(?s).*Categories:\s*([^.]+)([.].*)?$`)
	deviceRe      = regexp.MustCompile(`^TM[567]`)
	collapseRe    = regexp.MustCompile(`\s+`)
)

// Recipe extracts the full detail of a recipe page. The collection kind
// decides where notes and categories come from: created recipes keep them
// in the tips section, everything else gets tags and scaling variants.
func Recipe(pageHTML string, r types.Recipe, kind types.CollectionKind) (*types.RecipeDetail, error) {
	doc, err := newDoc(pageHTML)
	if err != nil {
		return nil, err
	}

	detail := &types.RecipeDetail{Recipe: r}
	detail.SourceURL = r.URL
	detail.Language = doc.Find("html").AttrOr("lang", "")
	if title := strings.TrimSpace(doc.Find(".recipe-card__name").First().Text()); title != "" {
		detail.Title = title
	}
	if detail.Title == "" {
		return nil, fmt.Errorf("page for recipe %s has no title, probably not a recipe page", r.ID)
	}

	if kind == types.KindCreated {
		detail.Categories = []string{"Thermomix", "Created Recipes"}
		detail.Source = "Cookidoo - Created Recipe"
	} else {
		detail.Categories = []string{"Thermomix", "Cookidoo Recipes"}
		detail.Source = "Cookidoo"
	}

	detail.Ingredients = ingredients(doc)
	detail.Directions = directions(doc)
	detail.MyNotes = fixText(joinTexts(doc.Find("p.core-note__text"), "\n\n"))

	prep, total, servings := cookParams(doc)
	detail.PrepTime = prep
	detail.TotalTime = total
	detail.Servings = servings

	if kind == types.KindCreated {
		detail.Notes = createdNotes(doc)
		detail.Categories = append(detail.Categories, notesCategories(detail.Notes)...)
	} else {
		doc.Find(".core-tags-wrapper__tags-container a").Each(func(_ int, s *goquery.Selection) {
			tag := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(s.Text(), "#", ""), "\n", "")))
			if tag != "" {
				detail.Tags = append(detail.Tags, tag)
			}
		})
		detail.Notes = fixText(joinTexts(doc.Find("#tips-section li"), "\n\n"))
		doc.Find(".rdp-serving-size__variants-section core-toggle-button a").Each(func(_ int, s *goquery.Selection) {
			detail.Scaling = append(detail.Scaling, strings.TrimSpace(s.Text()))
		})
	}

	detail.Categories = append(detail.Categories, deviceCategories(doc)...)

	// the json-ld block is more reliable than the icon labels, use it to
	// fill whatever the DOM didn't yield
	ldPrep, ldTotal, ldServings := jsonLDParams(doc)
	if detail.PrepTime == "" {
		detail.PrepTime = ldPrep
	}
	if detail.TotalTime == "" {
		detail.TotalTime = ldTotal
	}
	if detail.Servings == "" {
		detail.Servings = ldServings
	}

	return detail, nil
}

func joinTexts(sel *goquery.Selection, sep string) string {
	var parts []string
	sel.Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(collapseRe.ReplaceAllString(s.Text(), " "))
		if text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, sep)
}

// ingredients walks the section headers and items of the ingredients
// section in document order.
func ingredients(doc *goquery.Document) string {
	var lines []string
	doc.Find("#ingredients-section h5, #ingredients-section li").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "h5" {
			lines = append(lines, fmt.Sprintf("\n%s:\n", strings.TrimSpace(s.Text())))
			return
		}
		if simple := s.Find(".recipe-ingredient--simple"); simple.Length() > 0 {
			lines = append(lines, strings.TrimSpace(simple.First().Text()))
			return
		}
		var ingred string
		if amount := strings.TrimSpace(strings.ReplaceAll(s.Find(".recipe-ingredient__amount").First().Text(), "\n", " ")); amount != "" {
			ingred += amount + " "
		}
		ingred += strings.TrimSpace(s.Find(".recipe-ingredient__name").First().Text())
		if desc := strings.TrimSpace(strings.ReplaceAll(s.Find(".recipe-ingredient__description").First().Text(), "\n", " ")); desc != "" {
			ingred += strings.ReplaceAll(", "+desc, ", (", " (")
		}
		s.Find(".recipe-ingredient__alternative").Each(func(_ int, alt *goquery.Selection) {
			altText := strings.TrimSpace(strings.ReplaceAll(alt.Text(), "\n", " "))
			ingred += fmt.Sprintf("\n>>>or %s", altText)
		})
		lines = append(lines, ingred)
	})
	text := strings.TrimSpace(fixText(strings.Join(lines, "\n")))
	return strings.ReplaceAll(text, "\n>>>or", "\n   or")
}

func directions(doc *goquery.Document) string {
	var steps []string
	doc.Find("#preparation-steps-section h5, #preparation-steps-section li").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(collapseRe.ReplaceAllString(s.Text(), " "))
		if text == "" {
			return
		}
		if goquery.NodeName(s) == "h5" {
			steps = append(steps, text+":")
		} else {
			steps = append(steps, text)
		}
	})
	return strings.TrimSpace(fixText(strings.Join(steps, "\n\n")))
}

// cookParams reads the icon-labelled prep time, total time and servings
// from the recipe card.
func cookParams(doc *goquery.Document) (prep, total, servings string) {
	doc.Find(".recipe-card__cook-params span[class*='icon--']").Each(func(_ int, s *goquery.Selection) {
		value := strings.TrimSpace(s.Next().Text())
		if value == "" || value == "-" {
			return
		}
		classes := strings.Fields(s.AttrOr("class", ""))
		for _, c := range classes {
			switch c {
			case "icon--time-preparation":
				prep = prepPrefixRe.ReplaceAllString(fixTime(value), "")
			case "icon--time":
				total = totalPrefixRe.ReplaceAllString(fixTime(value), "")
			case "icon--servings":
				servings = fixText(value)
			}
		}
	})
	return prep, total, servings
}

// createdNotes reads the tips section of a created recipe and prepends the
// import provenance when the recipe was imported from elsewhere.
func createdNotes(doc *goquery.Document) string {
	notes := fixText(joinTexts(doc.Find("#tips-section p"), "\n\n"))
	importedFrom := doc.Find(".cr-author-card__link").First()
	if strings.Contains(notes, "Imported ") && importedFrom.Length() == 0 {
		return notes
	}
	var imported string
	if by := strings.TrimSpace(doc.Find(".cr-author-card__heading-group core-user-name").First().Text()); by != "" {
		imported += " by " + by
	}
	if href, ok := importedFrom.Attr("href"); ok {
		imported += " from " + href
	}
	if imported != "" {
		notes = "Imported" + imported + "\n\n" + notes
	}
	return notes
}

// notesCategories pulls the "Categories: a, b." marker out of a created
// recipe's notes.
func notesCategories(notes string) []string {
	m := categoriesRe.FindStringSubmatch(notes)
	if m == nil {
		return nil
	}
	var categories []string
	for _, c := range regexp.MustCompile(`,\s*`).Split(m[1], -1) {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}
	return categories
}

// deviceCategories marks recipes that only work on the TM7 or not at all on
// the TM7, based on the device badges on the page.
func deviceCategories(doc *goquery.Document) []string {
	var devices []string
	doc.Find("recipe-device").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if deviceRe.MatchString(text) {
			devices = append(devices, text)
		}
	})
	if len(devices) == 0 {
		return nil
	}
	var categories []string
	if len(devices) == 1 && devices[0] == "TM7" {
		categories = append(categories, "TM7 Only")
	}
	hasTM7 := false
	for _, d := range devices {
		if d == "TM7" {
			hasTM7 = true
		}
	}
	if !hasTM7 {
		categories = append(categories, "Not TM7")
	}
	return categories
}

// jsonLDParams reads prep time, total time and servings from the page's
// schema.org Recipe block.
func jsonLDParams(doc *goquery.Document) (prep, total, servings string) {
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		n, err := jsonquery.Parse(strings.NewReader(s.Text()))
		if err != nil {
			return true
		}
		if v := jsonquery.FindOne(n, "//prepTime"); v != nil {
			prep = durationText(v.InnerText())
		}
		if v := jsonquery.FindOne(n, "//totalTime"); v != nil {
			total = durationText(v.InnerText())
		}
		if v := jsonquery.FindOne(n, "//recipeYield"); v != nil {
			servings = strings.TrimSpace(v.InnerText())
		}
		return prep == "" && total == "" && servings == ""
	})
	return prep, total, servings
}
