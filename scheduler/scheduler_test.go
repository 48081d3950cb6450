package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cookidump/cookidump/dedup"
	"github.com/cookidump/cookidump/export"
	"github.com/cookidump/cookidump/fetch"
	"github.com/cookidump/cookidump/filter"
	"github.com/cookidump/cookidump/types"
)

const loginPageHTML = `
<html>
<head><title>Sign in</title></head>
<body><form id="login"></form></body>
</html>
`

func collectionPage(header int, ids ...string) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>Collection</title></head><body>`)
	if header >= 0 {
		fmt.Fprintf(&b, `<div class="cdp-header__count">%d Recipes</div>`, header)
	}
	for _, id := range ids {
		fmt.Fprintf(&b, `<core-tile data-recipe-id=%q><a href="/recipe/%s"></a><span class="core-tile__description-text">Recipe %s</span></core-tile>`, id, id, id)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func recipePage(title string) string {
	return fmt.Sprintf(`
<html lang="en">
<head><title>%s</title></head>
<body>
  <h1 class="recipe-card__name">%s</h1>
  <div id="ingredients-section"><ul><li class="core-feature-icons__ingredient">100 g flour</li></ul></div>
</body>
</html>`, title, title)
}

type fixture struct {
	fetcher  *fetch.MockFetcher
	index    *dedup.Index
	exporter *export.Exporter
	root     string
}

func newFixture(t *testing.T, separate bool) *fixture {
	t.Helper()
	root := t.TempDir()
	exporter, err := export.New(root, "json", separate)
	if err != nil {
		t.Fatalf("expected no error while creating exporter but got: %v", err)
	}
	index, err := dedup.Scan(filepath.Join(root, "json"))
	if err != nil {
		t.Fatalf("expected no error while scanning but got: %v", err)
	}
	return &fixture{
		fetcher:  fetch.NewMockFetcher(&fetch.FetcherConfig{}),
		index:    index,
		exporter: exporter,
		root:     root,
	}
}

func (f *fixture) scheduler(opts Options) *Scheduler {
	return New(f.fetcher, filter.MatchAll(), f.index, f.exporter, opts)
}

func (f *fixture) addCollection(id string, header int, recipeIDs ...string) types.Collection {
	url := "https://cookidoo.co.uk/organize/en-GB/" + id
	f.fetcher.SetPage(url, collectionPage(header, recipeIDs...))
	for _, rid := range recipeIDs {
		f.fetcher.SetPage("https://cookidoo.co.uk/recipe/"+rid, recipePage("Recipe "+rid))
	}
	return types.Collection{ID: id, Title: "Collection " + id, URL: url, Kind: types.KindSaved, HeaderCount: -1}
}

func TestRunProcessesCollections(t *testing.T) {
	f := newFixture(t, true)
	cols := []types.Collection{
		f.addCollection("col-a", 2, "r-1", "r-2"),
		f.addCollection("col-b", 1, "r-3"),
	}

	results := f.scheduler(Options{BaseURL: "https://cookidoo.co.uk"}).Run(context.Background(), cols, 2)

	if len(results) != 2 {
		t.Fatalf("expected 2 results but got %d", len(results))
	}
	totalNew := 0
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("expected no error for %s but got: %v", res.Collection.ID, res.Err)
		}
		if res.Failed != 0 {
			t.Errorf("expected no failures for %s but got %d", res.Collection.ID, res.Failed)
		}
		totalNew += res.New
	}
	if totalNew != 3 {
		t.Errorf("expected 3 new recipes but got %d", totalNew)
	}
	for _, p := range []string{
		filepath.Join("json", "col-a", "r-1.json"),
		filepath.Join("json", "col-a", "r-2.json"),
		filepath.Join("json", "col-b", "r-3.json"),
	} {
		if _, err := os.Stat(filepath.Join(f.root, p)); err != nil {
			t.Errorf("expected %s to exist but got: %v", p, err)
		}
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	f := newFixture(t, true)
	cols := []types.Collection{f.addCollection("col-a", 1, "r-1")}
	recipeURL := "https://cookidoo.co.uk/recipe/r-1"
	f.fetcher.FailTimes(recipeURL, 2)

	results := f.scheduler(Options{BaseURL: "https://cookidoo.co.uk"}).Run(context.Background(), cols, 1)

	if results[0].New != 1 || results[0].Failed != 0 {
		t.Fatalf("expected 1 new and 0 failed but got %d new and %d failed", results[0].New, results[0].Failed)
	}
	if got := f.fetcher.FetchCount(recipeURL); got != 3 {
		t.Errorf("expected 3 fetch attempts but got %d", got)
	}
}

func TestRunIsolatesRecipeFailures(t *testing.T) {
	f := newFixture(t, true)
	cols := []types.Collection{f.addCollection("col-a", 5, "r-1", "r-2", "r-3", "r-4", "r-5")}
	f.fetcher.FailTimes("https://cookidoo.co.uk/recipe/r-3", 10)

	results := f.scheduler(Options{BaseURL: "https://cookidoo.co.uk"}).Run(context.Background(), cols, 1)

	res := results[0]
	if res.Err != nil {
		t.Fatalf("expected no collection error but got: %v", res.Err)
	}
	if res.New != 4 || res.Failed != 1 {
		t.Fatalf("expected 4 new and 1 failed but got %d new and %d failed", res.New, res.Failed)
	}
	if len(res.FailedIDs) != 1 || res.FailedIDs[0] != "r-3" {
		t.Errorf("expected failed ids [r-3] but got %v", res.FailedIDs)
	}
}

func TestRunIsolatesCollectionFailures(t *testing.T) {
	f := newFixture(t, true)
	broken := types.Collection{
		ID:          "col-broken",
		Title:       "Broken",
		URL:         "https://cookidoo.co.uk/organize/en-GB/col-broken",
		Kind:        types.KindSaved,
		HeaderCount: -1,
	}
	cols := []types.Collection{f.addCollection("col-a", 1, "r-1"), broken}

	results := f.scheduler(Options{BaseURL: "https://cookidoo.co.uk"}).Run(context.Background(), cols, 1)

	byID := map[string]types.RunResult{}
	for _, res := range results {
		byID[res.Collection.ID] = res
	}
	if byID["col-broken"].Err == nil {
		t.Error("expected an error for the broken collection but got none")
	}
	if byID["col-a"].Err != nil || byID["col-a"].New != 1 {
		t.Errorf("expected the healthy collection to succeed but got: %+v", byID["col-a"])
	}
}

func TestRunCancelsOnAuthLoss(t *testing.T) {
	f := newFixture(t, true)
	col := f.addCollection("col-a", 1, "r-1")
	f.fetcher.SetPage(col.URL, loginPageHTML)

	results := f.scheduler(Options{BaseURL: "https://cookidoo.co.uk"}).Run(context.Background(), []types.Collection{col}, 1)

	if !errors.Is(results[0].Err, ErrAuthLost) {
		t.Fatalf("expected auth loss error but got: %v", results[0].Err)
	}
}

func TestRunSkipsCapturedRecipes(t *testing.T) {
	f := newFixture(t, true)
	cols := []types.Collection{f.addCollection("col-a", 2, "r-1", "r-2")}
	s := f.scheduler(Options{BaseURL: "https://cookidoo.co.uk"})

	first := s.Run(context.Background(), cols, 1)
	if first[0].New != 2 {
		t.Fatalf("expected 2 new recipes on the first run but got %d", first[0].New)
	}

	second := s.Run(context.Background(), cols, 1)
	if second[0].New != 0 || second[0].Skipped != 2 {
		t.Errorf("expected 0 new and 2 skipped on the second run but got %d new and %d skipped",
			second[0].New, second[0].Skipped)
	}
	if second[0].Captured != 2 {
		t.Errorf("expected 2 captured recipes on disk but got %d", second[0].Captured)
	}
	if got := f.fetcher.FetchCount("https://cookidoo.co.uk/recipe/r-1"); got != 1 {
		t.Errorf("expected the captured recipe to be fetched once but got %d", got)
	}
}

func TestRunForceRefetchesCapturedRecipes(t *testing.T) {
	f := newFixture(t, true)
	cols := []types.Collection{f.addCollection("col-a", 1, "r-1")}
	s := f.scheduler(Options{BaseURL: "https://cookidoo.co.uk", Force: true})

	s.Run(context.Background(), cols, 1)
	second := s.Run(context.Background(), cols, 1)

	if second[0].New != 1 || second[0].Skipped != 0 {
		t.Errorf("expected the recipe to be re-captured but got %d new and %d skipped",
			second[0].New, second[0].Skipped)
	}
}

func TestRunHonorsRecipeLimit(t *testing.T) {
	f := newFixture(t, true)
	cols := []types.Collection{f.addCollection("col-a", 3, "r-1", "r-2", "r-3")}

	results := f.scheduler(Options{BaseURL: "https://cookidoo.co.uk", RecipeLimit: 2}).Run(context.Background(), cols, 1)

	if results[0].Listed != 2 || results[0].New != 2 {
		t.Errorf("expected 2 listed and 2 new but got %d listed and %d new", results[0].Listed, results[0].New)
	}
}

func TestRunAggregateMode(t *testing.T) {
	f := newFixture(t, false)
	cols := []types.Collection{f.addCollection("col-a", 2, "r-1", "r-2")}

	results := f.scheduler(Options{BaseURL: "https://cookidoo.co.uk"}).Run(context.Background(), cols, 1)

	if results[0].New != 2 {
		t.Fatalf("expected 2 new recipes but got %d", results[0].New)
	}
	if _, err := os.Stat(filepath.Join(f.root, "json", "col-a.json")); err != nil {
		t.Fatalf("expected the aggregate file to exist but got: %v", err)
	}
	if !f.index.IsCaptured("r-1", "col-a") || !f.index.IsCaptured("r-2", "col-a") {
		t.Error("expected both recipes to be marked captured after the aggregate write")
	}
}

func TestRunAggregateFlushFailureReportsRecipeIDs(t *testing.T) {
	f := newFixture(t, false)
	cols := []types.Collection{f.addCollection("col-a", 2, "r-1", "r-2")}
	path := filepath.Join(f.root, "json", "col-a.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	results := f.scheduler(Options{BaseURL: "https://cookidoo.co.uk"}).Run(context.Background(), cols, 1)

	res := results[0]
	var writeErr *export.WriteError
	if !errors.As(res.Err, &writeErr) {
		t.Fatalf("expected a write error but got: %v", res.Err)
	}
	if res.New != 0 || res.Failed != 2 {
		t.Errorf("expected 0 new and 2 failed but got %d new and %d failed", res.New, res.Failed)
	}
	if len(res.FailedIDs) != 2 || res.FailedIDs[0] != "r-1" || res.FailedIDs[1] != "r-2" {
		t.Errorf("expected failed ids [r-1 r-2] but got %v", res.FailedIDs)
	}
	if f.index.IsCaptured("r-1", "col-a") || f.index.IsCaptured("r-2", "col-a") {
		t.Error("expected no recipes to be marked captured after the failed flush")
	}
}

func TestRunSharedRecipeWrittenPerCollection(t *testing.T) {
	f := newFixture(t, true)
	cols := []types.Collection{
		f.addCollection("col-a", 1, "r-shared"),
		f.addCollection("col-b", 1, "r-shared"),
	}

	f.scheduler(Options{BaseURL: "https://cookidoo.co.uk"}).Run(context.Background(), cols, 2)

	for _, p := range []string{
		filepath.Join("json", "col-a", "r-shared.json"),
		filepath.Join("json", "col-b", "r-shared.json"),
	} {
		if _, err := os.Stat(filepath.Join(f.root, p)); err != nil {
			t.Errorf("expected %s to exist but got: %v", p, err)
		}
	}
	if got := f.index.UniqueRecipes(); got != 1 {
		t.Errorf("expected 1 unique recipe but got %d", got)
	}
}

func TestRunFiltersRecipesByPattern(t *testing.T) {
	f := newFixture(t, true)
	cols := []types.Collection{f.addCollection("col-a", 2, "r-1", "r-2")}
	spec, err := filter.Parse("::Recipe r-1")
	if err != nil {
		t.Fatalf("expected no error while parsing the filter but got: %v", err)
	}
	s := New(f.fetcher, spec, f.index, f.exporter, Options{BaseURL: "https://cookidoo.co.uk"})

	results := s.Run(context.Background(), cols, 1)

	if results[0].New != 1 {
		t.Errorf("expected 1 new recipe but got %d", results[0].New)
	}
	if got := f.fetcher.FetchCount("https://cookidoo.co.uk/recipe/r-2"); got != 0 {
		t.Errorf("expected the filtered recipe not to be fetched but got %d fetches", got)
	}
}
