// Package export renders captured records into the output directory: one
// list file per collection, a master index and the recipe payloads in
// Paprika 3 json format, either one file per recipe or one aggregate file
// per collection.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cookidump/cookidump/types"
)

// WriteError means an artifact could not be durably written. The item is
// recorded as failed and the dedup index is not updated for it.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

var pathUnsafeReplacer = strings.NewReplacer("/", "-", "\\", "-", "\x00", "")

// Exporter writes all run artifacts. Per-collection subpaths are disjoint
// so concurrent workers never contend on the same files; only the
// aggregate buffers and index files are guarded by the mutex.
type Exporter struct {
	root     string
	jsonDir  string
	separate bool

	mu      sync.Mutex
	pending map[string]map[string]map[string]any // collection id -> recipe id -> payload
}

func New(root, jsonDir string, separate bool) (*Exporter, error) {
	if err := os.MkdirAll(filepath.Join(root, jsonDir), 0o755); err != nil {
		return nil, &WriteError{Path: root, Err: err}
	}
	return &Exporter{
		root:     root,
		jsonDir:  jsonDir,
		separate: separate,
		pending:  map[string]map[string]map[string]any{},
	}, nil
}

// WriteRecipe writes one recipe payload. In separate mode the artifact is
// complete when this returns and the returned location can be marked
// captured right away. In aggregate mode the payload is buffered until
// FinishCollection and the returned location is empty.
func (e *Exporter) WriteRecipe(collectionID string, d *types.RecipeDetail) (string, error) {
	payload := paprikaPayload(d)
	if !e.separate {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.pending[collectionID] == nil {
			e.pending[collectionID] = map[string]map[string]any{}
		}
		e.pending[collectionID][d.ID] = payload
		return "", nil
	}

	dir := filepath.Join(e.root, e.jsonDir, collectionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &WriteError{Path: dir, Err: err}
	}
	path := filepath.Join(dir, d.ID+".json")
	if err := atomicWriteJSON(path, payload); err != nil {
		return "", err
	}
	return path, nil
}

// FinishCollection flushes the aggregate file for a collection, merged with
// whatever a previous run already captured there. It returns the ids whose
// artifacts are now durable, mapped to the artifact location. In separate
// mode there is nothing to flush.
func (e *Exporter) FinishCollection(collectionID string) (map[string]string, error) {
	if e.separate {
		return nil, nil
	}
	e.mu.Lock()
	pending := e.pending[collectionID]
	delete(e.pending, collectionID)
	e.mu.Unlock()
	if len(pending) == 0 {
		return nil, nil
	}

	path := filepath.Join(e.root, e.jsonDir, collectionID+".json")
	merged := map[string]json.RawMessage{}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &WriteError{Path: path, Err: err}
	}
	if err == nil {
		if err := json.Unmarshal(data, &merged); err != nil {
			return nil, &WriteError{Path: path, Err: fmt.Errorf("existing aggregate is not valid json: %w", err)}
		}
	}
	locations := map[string]string{}
	for id, payload := range pending {
		raw, err := encodeJSON(payload)
		if err != nil {
			return nil, &WriteError{Path: path, Err: err}
		}
		merged[id] = raw
		locations[id] = path
	}
	if err := atomicWriteJSON(path, merged); err != nil {
		return nil, err
	}
	return locations, nil
}

// WriteCollectionList writes the per-collection list file: one
// tab-separated id, url, name line per listed recipe, sorted by id.
func (e *Exporter) WriteCollectionList(col types.Collection, recipes []types.Recipe) error {
	sorted := make([]types.Recipe, len(recipes))
	copy(sorted, recipes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var b strings.Builder
	for _, r := range sorted {
		fmt.Fprintf(&b, "%s\t%s\t%s\n", r.ID, r.URL, r.Title)
	}
	path := filepath.Join(e.root, listFileName(col))
	return atomicWrite(path, []byte(b.String()))
}

type indexRow struct {
	count int
	kind  types.CollectionKind
	title string
}

func indexRowKey(kind types.CollectionKind, title string) string {
	return string(kind) + "\x00" + title
}

// WriteMasterIndex rewrites the global index: one count, kind, title line
// per collection, sorted by kind then title. New rows are merged with the
// rows already in the file, so a run narrowed down to a few collections
// never drops the index entries of collections captured by earlier runs.
func (e *Exporter) WriteMasterIndex(results []types.RunResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	path := filepath.Join(e.root, "Master Index")
	rows := map[string]indexRow{}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &WriteError{Path: path, Err: err}
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		count, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		row := indexRow{count: count, kind: types.CollectionKind(fields[1]), title: fields[2]}
		rows[indexRowKey(row.kind, row.title)] = row
	}
	for _, r := range results {
		count := r.Listed
		if r.Collection.HeaderCount >= 0 {
			count = r.Collection.HeaderCount
		}
		row := indexRow{count: count, kind: r.Collection.Kind, title: r.Collection.Title}
		rows[indexRowKey(row.kind, row.title)] = row
	}

	sorted := make([]indexRow, 0, len(rows))
	for _, row := range rows {
		sorted = append(sorted, row)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].kind != sorted[j].kind {
			return sorted[i].kind < sorted[j].kind
		}
		return sorted[i].title < sorted[j].title
	})

	var b strings.Builder
	for _, row := range sorted {
		fmt.Fprintf(&b, "%d\t%s\t%s\n", row.count, row.kind, row.title)
	}
	return atomicWrite(path, []byte(b.String()))
}

func listFileName(col types.Collection) string {
	return pathUnsafeReplacer.Replace(fmt.Sprintf("%s %s", col.Kind, col.Title))
}

// paprikaPayload shapes a recipe for Paprika 3 import, dropping empty
// fields.
func paprikaPayload(d *types.RecipeDetail) map[string]any {
	payload := map[string]any{
		"name":   d.Title,
		"source": d.Source,
	}
	addString := func(key, value string) {
		if value != "" {
			payload[key] = value
		}
	}
	addList := func(key string, values []string) {
		if len(values) > 0 {
			payload[key] = values
		}
	}
	addString("source_url", d.SourceURL)
	addString("language", d.Language)
	addList("categories", d.Categories)
	addString("ingredients", d.Ingredients)
	addString("directions", d.Directions)
	addString("notes", d.Notes)
	addString("mynotes", d.MyNotes)
	addList("tags", d.Tags)
	addList("scaling", d.Scaling)
	addString("prep_time", d.PrepTime)
	addString("total_time", d.TotalTime)
	addString("servings", d.Servings)
	return payload
}

// encodeJSON marshals without escaping html characters; recipe texts are
// full of ampersands and angle brackets that must survive round trips.
func encodeJSON(v any) ([]byte, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, buffer.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	return indented.Bytes(), nil
}

func atomicWriteJSON(path string, v any) error {
	data, err := encodeJSON(v)
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return atomicWrite(path, data)
}

// atomicWrite writes to a temp file in the target directory, syncs and
// renames. The artifact either exists in full or not at all.
func atomicWrite(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return &WriteError{Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return &WriteError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &WriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &WriteError{Path: path, Err: err}
	}
	return nil
}
