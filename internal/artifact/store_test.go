package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	payload := []byte("RIFF fake wav payload")
	if err := s.Put("1700000000_abc", payload); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get("1700000000_abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q", got)
	}

	want := sha256.Sum256(payload)
	have := sha256.Sum256(got)
	if hex.EncodeToString(want[:]) != hex.EncodeToString(have[:]) {
		t.Fatal("sha256 mismatch after round trip")
	}
}

func TestGetMissing(t *testing.T) {
	s, err := Open(t.TempDir(), newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func writeAged(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name+".wav")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
}

func TestSweepPreservesLatest(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	writeAged(t, dir, "ancient", now.Add(-10000*time.Second))
	writeAged(t, dir, "recent", now.Add(-5*time.Second))
	writeAged(t, dir, "newest", now)

	deleted, err := s.Sweep(3600*time.Second, true)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if _, err := s.Get("ancient"); !errors.Is(err, ErrNotFound) {
		t.Fatal("expected ancient artifact deleted")
	}
	for _, id := range []string{"recent", "newest"} {
		if _, err := s.Get(id); err != nil {
			t.Fatalf("expected %s to survive: %v", id, err)
		}
	}
}

func TestSweepKeepLatestIgnoresAge(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	writeAged(t, dir, "lone", now.Add(-48*time.Hour))

	deleted, err := s.Sweep(time.Hour, true)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected latest preserved, deleted %d", deleted)
	}

	// Without keepLatest the same artifact goes away.
	deleted, err = s.Sweep(time.Hour, false)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted without keepLatest, got %d", deleted)
	}
}

func TestSweepReclaimsOrphanedParts(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	writeAged(t, dir, "published", now)

	stale := filepath.Join(dir, "1700000000_abc.123.part")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatalf("write stale part: %v", err)
	}
	if err := os.Chtimes(stale, now.Add(-2*time.Hour), now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("chtimes stale part: %v", err)
	}
	fresh := filepath.Join(dir, "1700000001_def.456.part")
	if err := os.WriteFile(fresh, []byte("x"), 0o644); err != nil {
		t.Fatalf("write fresh part: %v", err)
	}

	deleted, err := s.Sweep(time.Hour, true)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expected stale part file reclaimed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("expected fresh part file to survive: %v", err)
	}
	if _, err := s.Get("published"); err != nil {
		t.Fatalf("expected published artifact untouched: %v", err)
	}
}

func TestSweepIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	writeAged(t, dir, "old", now.Add(-2*time.Hour))
	writeAged(t, dir, "new", now)

	first, err := s.Sweep(time.Hour, true)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected 1 deleted on first sweep, got %d", first)
	}

	second, err := s.Sweep(time.Hour, true)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second != 0 {
		t.Fatalf("expected 0 deleted on second sweep, got %d", second)
	}
}
