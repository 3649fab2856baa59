package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const manifestExt = ".json"

// Manifest records a completed checkpoint.
type Manifest struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Sequence      uint64    `json:"sequence"`
	JournalOffset int64     `json:"journalOffset"`
	DataFile      string    `json:"dataFile"`
	DataSize      int64     `json:"dataSize"`
	Compressor    string    `json:"compressor"`
	CreatedAt     time.Time `json:"createdAt"`
}

// writeManifest replaces dir/<name>.json atomically: the manifest is written
// to a temporary file, synced, renamed over the target and the directory is
// synced.
func writeManifest(dir string, m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("engine: encode manifest: %w", err)
	}

	target := filepath.Join(dir, m.Name+manifestExt)
	tmp, err := os.CreateTemp(dir, "."+m.Name+"-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("engine: create manifest: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return nil, fmt.Errorf("engine: write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return nil, fmt.Errorf("engine: sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("engine: close manifest: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("engine: rename manifest: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return nil, err
	}
	return data, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("engine: open dir %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("engine: sync dir %s: %w", dir, err)
	}
	return nil
}

// loadManifests reads every manifest in dir. Temporary files left by an
// interrupted checkpoint are removed.
func loadManifests(dir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("engine: read manifests: %w", err)
	}

	var out []*Manifest
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() {
			continue
		}
		if strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp") {
			os.Remove(filepath.Join(dir, name))
			continue
		}
		if !strings.HasSuffix(name, manifestExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("engine: read manifest %s: %w", name, err)
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("engine: decode manifest %s: %w", name, err)
		}
		out = append(out, &m)
	}
	return out, nil
}

// latest returns the manifest with the highest sequence.
func latest(ms []*Manifest) *Manifest {
	var best *Manifest
	for _, m := range ms {
		if best == nil || m.Sequence > best.Sequence {
			best = m
		}
	}
	return best
}

// ListCheckpoints returns the checkpoint manifests of the engine rooted at
// dir, oldest first.
func ListCheckpoints(dir string) ([]*Manifest, error) {
	ms, err := loadManifests(filepath.Join(dir, "checkpoints"))
	if err != nil {
		return nil, err
	}
	sort.Slice(ms, func(i, j int) bool {
		return ms[i].Sequence < ms[j].Sequence
	})
	return ms, nil
}
