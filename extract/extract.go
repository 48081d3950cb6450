// Package extract turns raw page HTML into domain records. It is the only
// place that knows the site's DOM structure.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cookidump/cookidump/types"
)

var countRe = regexp.MustCompile(` Recipes?`)

func newDoc(pageHTML string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
}

// absoluteURL resolves href against base. Relative hrefs show up on
// collection tiles, absolute ones on the fixed lists.
func absoluteURL(base, href string) string {
	if href == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}

// collectionID is the last path segment of the collection URL, minus any
// anchor.
func collectionID(collectionURL string) string {
	u, err := url.Parse(collectionURL)
	if err != nil {
		return collectionURL
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	return segs[len(segs)-1]
}

// FixedCollections returns the bookmark list and the created-recipes list
// from the my-recipes page. Both always exist for an account.
func FixedCollections(pageHTML, baseURL string) ([]types.Collection, error) {
	doc, err := newDoc(pageHTML)
	if err != nil {
		return nil, err
	}
	var collections []types.Collection

	bookmarks := doc.Find("a[data-type='bookmarklist']").First()
	href, ok := bookmarks.Attr("href")
	if !ok {
		return nil, fmt.Errorf("no bookmark list found on my-recipes page")
	}
	u := absoluteURL(baseURL, href)
	collections = append(collections, types.Collection{
		ID: collectionID(u), Title: "Bookmarks", URL: u, Kind: types.KindBookmark, HeaderCount: -1,
	})

	created := doc.Find("li.is-customer-recipe a").First()
	if href, ok := created.Attr("href"); ok {
		u := absoluteURL(baseURL, href)
		collections = append(collections, types.Collection{
			ID: collectionID(u), Title: "Created recipes", URL: u, Kind: types.KindCreated, HeaderCount: -1,
		})
	}
	return collections, nil
}

// CustomCollections returns the user's own collections from the my-recipes
// page.
func CustomCollections(pageHTML, baseURL string) ([]types.Collection, error) {
	doc, err := newDoc(pageHTML)
	if err != nil {
		return nil, err
	}
	var collections []types.Collection
	doc.Find("#filter--created .dropzone").Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find("organize-title").First().Text())
		href, ok := s.Find("a").First().Attr("href")
		if !ok || title == "" {
			return
		}
		u := absoluteURL(baseURL, href)
		collections = append(collections, types.Collection{
			ID: collectionID(u), Title: title, URL: u, Kind: types.KindCustom, HeaderCount: -1,
		})
	})
	return collections, nil
}

// SavedCollectionsLink finds the link to the page listing the user's saved
// collections. Accounts without a subscription don't have one.
func SavedCollectionsLink(pageHTML, baseURL string) (string, bool) {
	doc, err := newDoc(pageHTML)
	if err != nil {
		return "", false
	}
	href, ok := doc.Find(".collection-wrapper .core-list-cell__wrapper").First().Attr("href")
	if !ok {
		return "", false
	}
	return absoluteURL(baseURL, href), true
}

// SavedCollections parses the saved-collections listing. Saved collection
// titles are not necessarily unique, so the id from the URL is appended.
func SavedCollections(pageHTML, baseURL string) ([]types.Collection, error) {
	doc, err := newDoc(pageHTML)
	if err != nil {
		return nil, err
	}
	var collections []types.Collection
	doc.Find("core-tiles-list core-tile").Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find(".core-tile__description-text").First().Text())
		href, ok := s.Find("a").First().Attr("href")
		if !ok || title == "" {
			return
		}
		u := absoluteURL(baseURL, href)
		id := collectionID(strings.TrimSuffix(u, "#main"))
		collections = append(collections, types.Collection{
			ID:          id,
			Title:       fmt.Sprintf("%s (%s)", title, id),
			URL:         u,
			Kind:        types.KindSaved,
			HeaderCount: -1,
		})
	})
	return collections, nil
}

// RecipeTiles extracts the recipe tiles of a collection page. Created
// recipes carry their id in the id attribute, everything else in
// data-recipe-id. Tiles missing id, name or link are skipped.
func RecipeTiles(pageHTML string, kind types.CollectionKind, baseURL string) ([]types.Recipe, error) {
	doc, err := newDoc(pageHTML)
	if err != nil {
		return nil, err
	}
	var recipes []types.Recipe
	doc.Find("core-tile").Each(func(_ int, s *goquery.Selection) {
		var id string
		if kind == types.KindCreated {
			id, _ = s.Attr("id")
		} else {
			id, _ = s.Attr("data-recipe-id")
		}
		name := strings.TrimSpace(s.Find(".core-tile__description-text").First().Text())
		href, _ := s.Find("a").First().Attr("href")
		if id == "" || name == "" || href == "" {
			return
		}
		recipes = append(recipes, types.Recipe{
			ID:    id,
			Title: name,
			URL:   absoluteURL(baseURL, href),
		})
	})
	sort.Slice(recipes, func(i, j int) bool { return recipes[i].ID < recipes[j].ID })
	return recipes, nil
}

// Titles of the login page in the languages we have seen so far.
var loginTitles = map[string]bool{
	"Sign in":  true,
	"Login":    true,
	"Anmelden": true,
}

// IsLoginPage reports whether the site redirected to the login page, which
// means the session no longer grants access.
func IsLoginPage(pageHTML string) bool {
	doc, err := newDoc(pageHTML)
	if err != nil {
		return false
	}
	return loginTitles[strings.TrimSpace(doc.Find("title").First().Text())]
}

// HeaderCount reads the recipe count from a saved collection's page header,
// or -1 when there is none.
func HeaderCount(pageHTML string) int {
	doc, err := newDoc(pageHTML)
	if err != nil {
		return -1
	}
	text := strings.TrimSpace(doc.Find(".cdp-header__count").First().Text())
	if text == "" {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(countRe.ReplaceAllString(text, "")))
	if err != nil {
		return -1
	}
	return n
}
