package dedup

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanEmptyDir(t *testing.T) {
	idx, err := Scan(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("expected no error for missing dir, got %v", err)
	}
	if idx.IsCaptured("r1", "c1") {
		t.Error("empty index should capture nothing")
	}
}

func TestScanSeparateArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "c1", "r1.json"), `{}`)
	writeFile(t, filepath.Join(dir, "c1", "r2.json"), `{}`)
	writeFile(t, filepath.Join(dir, "c2", "r1.json"), `{}`)
	writeFile(t, filepath.Join(dir, "c1", "notes.txt"), `ignored`)

	idx, err := Scan(dir)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !idx.IsCaptured("r1", "c1") || !idx.IsCaptured("r2", "c1") || !idx.IsCaptured("r1", "c2") {
		t.Error("expected existing artifacts to be captured")
	}
	if idx.IsCaptured("r2", "c2") {
		t.Error("r2 was never written for c2")
	}
	// r1 exists under two collections but counts once globally
	if got := idx.UniqueRecipes(); got != 2 {
		t.Errorf("expected 2 unique recipes, got %d", got)
	}
}

func TestScanAggregateArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "c1.json"), `{"r1":{"name":"a"},"r2":{"name":"b"}}`)

	idx, err := Scan(dir)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !idx.IsCaptured("r1", "c1") || !idx.IsCaptured("r2", "c1") {
		t.Error("expected aggregate entries to be captured")
	}
	if idx.IsCaptured("r3", "c1") {
		t.Error("r3 is not in the aggregate file")
	}
}

func TestMarkCaptured(t *testing.T) {
	idx, err := Scan(filepath.Join(t.TempDir(), "x"))
	if err != nil {
		t.Fatal(err)
	}
	rec := idx.MarkCaptured("r1", "c1", "/out/json/c1/r1.json")
	if rec.RecipeID != "r1" || rec.CollectionID != "c1" {
		t.Errorf("unexpected capture record %+v", rec)
	}
	if rec.CapturedAt.IsZero() {
		t.Error("capture timestamp not set")
	}
	if !idx.IsCaptured("r1", "c1") {
		t.Error("expected r1/c1 to be captured after MarkCaptured")
	}
	ids := idx.CapturedIDs("c1")
	if len(ids) != 1 || ids[0] != "r1" {
		t.Errorf("unexpected captured ids %v", ids)
	}
}

func TestIdentityStableAcrossLocales(t *testing.T) {
	dir := t.TempDir()
	// artifact written during an en-US run
	writeFile(t, filepath.Join(dir, "c1", "r1.json"), `{}`)
	idx, err := Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	// a later de-DE run sees the same id under a different url; only the
	// id matters
	if !idx.IsCaptured("r1", "c1") {
		t.Error("capture must be keyed by recipe id, not url")
	}
}
