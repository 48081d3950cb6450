// Package types defines shared types used across the application.
package types

import "time"

// CollectionKind distinguishes how recipes are grouped on the platform:
// the fixed bookmark list, the user's created recipes, custom (user-made)
// collections and saved (subscribed) collections.
type CollectionKind string

const (
	KindBookmark CollectionKind = "bookmark"
	KindCreated  CollectionKind = "created"
	KindCustom   CollectionKind = "custom"
	KindSaved    CollectionKind = "saved"
)

// Collection is a named, user-scoped grouping of recipes. The ID is opaque
// and site-scoped; the URL points at the collection page for the locale the
// run is bound to.
type Collection struct {
	ID    string
	Title string
	URL   string
	Kind  CollectionKind

	// HeaderCount is the recipe count the site reports in the collection
	// page header, or -1 when the page has none. It is cross-checked
	// against the number of tiles actually found on the page.
	HeaderCount int
}

// Recipe identity is the ID, not the URL: URLs are locale-specific but IDs
// are stable across locales, which is what makes deduplication correct when
// the user switches locale between runs.
type Recipe struct {
	ID    string
	Title string
	URL   string
}

// RecipeDetail holds the full content scraped from a recipe page, shaped
// for Paprika 3 import.
type RecipeDetail struct {
	Recipe

	Language   string
	Source     string
	SourceURL  string
	Categories []string
	Tags       []string

	Ingredients string
	Directions  string
	Notes       string
	MyNotes     string

	PrepTime  string
	TotalTime string
	Servings  string
	Scaling   []string
}

// CaptureRecord is the unit persisted by the dedup index: a recipe plus the
// output location its artifact was written to.
type CaptureRecord struct {
	RecipeID     string
	CollectionID string
	Location     string
	CapturedAt   time.Time
}

// RunResult holds the per-collection counters reported in the final summary.
type RunResult struct {
	Collection Collection
	Listed     int
	New        int
	Skipped    int
	Failed     int
	// Captured is the total number of recipes on disk for the collection
	// after the run, previously and newly captured combined.
	Captured  int
	FailedIDs []string
	Err       error
}
