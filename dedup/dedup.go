// Package dedup tracks which recipes have already been captured. The index
// is derived by scanning the output tree, not kept in a side file: an
// artifact that exists on disk is authoritative, which makes re-runs
// against a partially populated output directory resume correctly.
package dedup

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cookidump/cookidump/types"
)

// Index answers whether a recipe has been captured for a collection.
// Membership reflects only artifacts whose write durably completed; the
// exporter writes to a temp file first, so a crashed run never leaves a
// half-written artifact that would be counted here.
type Index struct {
	mu       sync.RWMutex
	captured map[string]map[string]string // collection id -> recipe id -> location
}

// Scan builds the index from the json payload directory under root. A
// missing directory yields an empty index, which is what a first run sees.
// Per-recipe artifacts are <collection>/<recipe>.json; aggregate artifacts
// are <collection>.json objects keyed by recipe id.
func Scan(jsonDir string) (*Index, error) {
	idx := &Index{captured: map[string]map[string]string{}}
	entries, err := os.ReadDir(jsonDir)
	if errors.Is(err, fs.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			files, err := os.ReadDir(filepath.Join(jsonDir, e.Name()))
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				id, ok := strings.CutSuffix(f.Name(), ".json")
				if !ok || f.IsDir() {
					continue
				}
				idx.add(e.Name(), id, filepath.Join(jsonDir, e.Name(), f.Name()))
			}
			continue
		}
		collection, ok := strings.CutSuffix(e.Name(), ".json")
		if !ok {
			continue
		}
		path := filepath.Join(jsonDir, e.Name())
		ids, err := aggregateIDs(path)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			idx.add(collection, id, path)
		}
	}
	return idx, nil
}

// aggregateIDs reads the recipe ids out of an aggregate collection file.
func aggregateIDs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payloads map[string]json.RawMessage
	if err := json.Unmarshal(data, &payloads); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(payloads))
	for id := range payloads {
		ids = append(ids, id)
	}
	return ids, nil
}

func (i *Index) add(collectionID, recipeID, location string) {
	if i.captured[collectionID] == nil {
		i.captured[collectionID] = map[string]string{}
	}
	i.captured[collectionID][recipeID] = location
}

// IsCaptured reports whether the recipe's artifact for this collection
// already exists.
func (i *Index) IsCaptured(recipeID, collectionID string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.captured[collectionID][recipeID]
	return ok
}

// MarkCaptured records a durably completed artifact write. Callers must
// only invoke it once the exporter has renamed the artifact into place.
func (i *Index) MarkCaptured(recipeID, collectionID, location string) types.CaptureRecord {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.add(collectionID, recipeID, location)
	return types.CaptureRecord{
		RecipeID:     recipeID,
		CollectionID: collectionID,
		Location:     location,
		CapturedAt:   time.Now(),
	}
}

// CapturedIDs returns all recipe ids captured for a collection, previously
// and during this run. The run summary reports this union per collection.
func (i *Index) CapturedIDs(collectionID string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	ids := make([]string, 0, len(i.captured[collectionID]))
	for id := range i.captured[collectionID] {
		ids = append(ids, id)
	}
	return ids
}

// UniqueRecipes counts distinct recipe ids across all collections. A
// recipe saved under two collections is written twice but counted once
// here.
func (i *Index) UniqueRecipes() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, recipes := range i.captured {
		for id := range recipes {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}
