package cache

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFile(t *testing.T, content string) *evaluation.SQLFile {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "01_select.sql")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return &evaluation.SQLFile{
		Path:    path,
		RelPath: "quest_1/basics/01_select.sql",
		Quest:   "quest_1",
		Name:    "01_select.sql",
		Hash:    HashContent([]byte(content)),
		ModTime: info.ModTime(),
	}
}

func testResult(file *evaluation.SQLFile, score int) *evaluation.Result {
	return &evaluation.Result{
		File:         *file,
		NumericScore: score,
		LetterGrade:  evaluation.GradeForScore(score),
		Assessment:   evaluation.Assess(score, true),
		EvaluatedAt:  time.Now().UTC(),
	}
}

func TestPutThenGet(t *testing.T) {
	c := New(t.TempDir(), Options{Enabled: true, ShortCircuit: true}, testLogger())
	file := testFile(t, "SELECT 1;")

	if _, ok := c.Get(file); ok {
		t.Fatal("expected miss on empty cache")
	}

	if err := c.Put(file, testResult(file, 8)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok := c.Get(file)
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if got.NumericScore != 8 {
		t.Errorf("NumericScore = %d, want 8", got.NumericScore)
	}
	if !got.Cached {
		t.Error("expected hit to be marked cached")
	}
}

func TestHashChangeInvalidates(t *testing.T) {
	root := t.TempDir()
	c := New(root, Options{Enabled: true, ShortCircuit: true}, testLogger())
	file := testFile(t, "SELECT 1;")

	if err := c.Put(file, testResult(file, 8)); err != nil {
		t.Fatal(err)
	}

	// New content, but keep the old mtime so only the hash differs.
	changed := *file
	changed.Hash = HashContent([]byte("SELECT 2;"))
	if _, ok := c.Get(&changed); ok {
		t.Fatal("expected miss after content change")
	}

	if err := c.Put(&changed, testResult(&changed, 6)); err != nil {
		t.Fatal(err)
	}

	stats, err := c.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 {
		t.Errorf("expected stale entry to be removed, got %d entries", stats.Entries)
	}
	if _, ok := c.Get(file); ok {
		t.Error("old hash should no longer hit")
	}
}

func TestArtifactOlderThanFile(t *testing.T) {
	c := New(t.TempDir(), Options{Enabled: true, ShortCircuit: true}, testLogger())
	file := testFile(t, "SELECT 1;")

	if err := c.Put(file, testResult(file, 7)); err != nil {
		t.Fatal(err)
	}

	touched := *file
	touched.ModTime = time.Now().Add(time.Hour)
	if _, ok := c.Get(&touched); ok {
		t.Error("expected miss when file is newer than artifact")
	}
}

func TestCorruptEntryIsMiss(t *testing.T) {
	root := t.TempDir()
	c := New(root, Options{Enabled: true, ShortCircuit: true}, testLogger())
	file := testFile(t, "SELECT 1;")

	if err := os.WriteFile(c.artifactPath(file), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Get(file); ok {
		t.Error("corrupt entry should be a miss")
	}

	if _, err := readEntry(c.artifactPath(file)); err == nil {
		t.Error("expected decode error")
	}
}

func TestDisabledAndForce(t *testing.T) {
	root := t.TempDir()
	file := testFile(t, "SELECT 1;")

	disabled := New(root, Options{Enabled: false, ShortCircuit: true}, testLogger())
	if err := disabled.Put(file, testResult(file, 9)); err != nil {
		t.Fatal(err)
	}
	if stats, _ := disabled.Stats(); stats.Entries != 0 {
		t.Errorf("disabled cache wrote %d entries", stats.Entries)
	}

	forced := New(root, Options{Enabled: true, ShortCircuit: false}, testLogger())
	if err := forced.Put(file, testResult(file, 9)); err != nil {
		t.Fatal(err)
	}
	if _, ok := forced.Get(file); ok {
		t.Error("cache without short circuit should never hit")
	}

	normal := New(root, Options{Enabled: true, ShortCircuit: true}, testLogger())
	if _, ok := normal.Get(file); !ok {
		t.Error("forced run should still have refreshed the entry")
	}
}

func TestClear(t *testing.T) {
	c := New(t.TempDir(), Options{Enabled: true, ShortCircuit: true}, testLogger())
	for _, content := range []string{"SELECT 1;", "SELECT 2;"} {
		file := testFile(t, content)
		file.RelPath = "quest_1/" + HashContent([]byte(content))[:6] + ".sql"
		if err := c.Put(file, testResult(file, 5)); err != nil {
			t.Fatal(err)
		}
	}

	n, err := c.Clear()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Clear() removed %d, want 2", n)
	}
}

func TestEscapeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"quest_1/basics/01.sql", "quest_1%2Fbasics%2F01.sql"},
		{"/abs/path.sql", "%2Fabs%2Fpath.sql"},
		{"q/a/b__c.sql", "q%2Fa%2Fb__c.sql"},
		{"q/a__b/c.sql", "q%2Fa__b%2Fc.sql"},
		{"100%/x.sql", "100%25%2Fx.sql"},
		{"top.sql", "top.sql"},
	}
	for _, tt := range tests {
		if got := escapeKey(tt.in); got != tt.want {
			t.Errorf("escapeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDistinctFilesSameContent(t *testing.T) {
	c := New(t.TempDir(), Options{Enabled: true, ShortCircuit: true}, testLogger())

	first := testFile(t, "SELECT 1;")
	first.RelPath = "q/a/b__c.sql"
	second := *first
	second.RelPath = "q/a__b/c.sql"

	if err := c.Put(first, testResult(first, 9)); err != nil {
		t.Fatalf("Put(first) error = %v", err)
	}
	if _, ok := c.Get(&second); ok {
		t.Fatal("a different file with the same content must miss")
	}

	if err := c.Put(&second, testResult(&second, 4)); err != nil {
		t.Fatalf("Put(second) error = %v", err)
	}
	got, ok := c.Get(first)
	if !ok {
		t.Fatal("Put for another file removed the first file's entry")
	}
	if got.NumericScore != 9 {
		t.Errorf("first NumericScore = %d, want 9", got.NumericScore)
	}
	if got, ok := c.Get(&second); !ok || got.NumericScore != 4 {
		t.Errorf("second Get() = %+v, %v, want score 4", got, ok)
	}
}

func TestEntryForAnotherPathIsMiss(t *testing.T) {
	c := New(t.TempDir(), Options{Enabled: true, ShortCircuit: true}, testLogger())
	file := testFile(t, "SELECT 1;")
	if err := c.Put(file, testResult(file, 7)); err != nil {
		t.Fatal(err)
	}

	path := c.artifactPath(file)
	entry, err := readEntry(path)
	if err != nil {
		t.Fatal(err)
	}
	entry.Path = "other/quest/file.sql"
	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Get(file); ok {
		t.Error("entry recorded for another path should miss")
	}
}

func TestStatsMissingDir(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "nope"), Options{Enabled: true}, testLogger())
	stats, err := c.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 0 {
		t.Errorf("expected 0 entries, got %d", stats.Entries)
	}
}
