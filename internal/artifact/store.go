package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound reports a voice id with no stored artifact.
var ErrNotFound = errors.New("artifact not found")

// Store persists generated audio one file per voice id under a directory.
type Store struct {
	dir   string
	log   *slog.Logger
	clock func() time.Time
}

func Open(dir string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Store{dir: dir, log: log, clock: time.Now}, nil
}

func (s *Store) path(voiceID string) string {
	return filepath.Join(s.dir, voiceID+".wav")
}

// Put writes bytes for a voice id. The write goes to a temp file first and
// is renamed into place so a concurrent Get never sees a partial artifact.
func (s *Store) Put(voiceID string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, voiceID+".*.part")
	if err != nil {
		return fmt.Errorf("create artifact temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close artifact temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(voiceID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

// Get returns the stored bytes for a voice id.
func (s *Store) Get(voiceID string) ([]byte, error) {
	data, err := os.ReadFile(s.path(voiceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

type entry struct {
	path    string
	modTime time.Time
}

// Sweep deletes artifacts older than maxAge. With keepLatest the most
// recently modified artifact survives regardless of age. Aged .part
// leftovers from interrupted writes are reclaimed as well. Returns the
// number of files deleted. Listing and sorting the directory on every pass
// is fine at the generation rates this store sees.
func (s *Store) Sweep(maxAge time.Duration, keepLatest bool) (int, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("list storage dir: %w", err)
	}

	now := s.clock()
	deleted := 0

	var entries []entry
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		switch {
		case strings.HasSuffix(de.Name(), ".wav"):
			entries = append(entries, entry{path: filepath.Join(s.dir, de.Name()), modTime: info.ModTime()})
		case strings.HasSuffix(de.Name(), ".part"):
			// Temp file left behind by an interrupted Put. Never the
			// published artifact, so keepLatest does not apply.
			if now.Sub(info.ModTime()) > maxAge {
				if err := os.Remove(filepath.Join(s.dir, de.Name())); err == nil {
					deleted++
				}
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime.After(entries[j].modTime)
	})
	for idx, e := range entries {
		if keepLatest && idx == 0 {
			continue
		}
		if now.Sub(e.modTime) > maxAge {
			if err := os.Remove(e.path); err != nil {
				s.log.Warn("failed to delete aged artifact", slog.String("path", e.path), slog.String("error", err.Error()))
				continue
			}
			deleted++
		}
	}
	return deleted, nil
}
