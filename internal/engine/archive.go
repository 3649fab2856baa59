package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/strata-io/strata/internal/objectstore"
)

// Archive uploads checkpoint manifests to an object store under a prefix.
type Archive struct {
	store  objectstore.Store
	prefix string
}

// NewArchive creates an archive rooted at prefix, which may be given as an
// s3://bucket/path URL.
func NewArchive(store objectstore.Store, prefix string) *Archive {
	return &Archive{store: store, prefix: objectstore.NormalizeKey(prefix)}
}

// Key returns the object key for a manifest.
func (a *Archive) Key(m *Manifest) string {
	return objectstore.JoinKey(a.prefix, m.Name, fmt.Sprintf("%020d-%s.json", m.Sequence, m.ID))
}

// Upload stores the encoded manifest.
func (a *Archive) Upload(ctx context.Context, m *Manifest, data []byte) (string, error) {
	key := a.Key(m)
	meta := map[string]string{
		"checkpoint-id":  m.ID,
		"journal-offset": strconv.FormatInt(m.JournalOffset, 10),
	}
	if err := a.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json", meta); err != nil {
		return "", err
	}
	return key, nil
}

// List returns the archived manifest keys for name, oldest first. An empty
// name lists every checkpoint.
func (a *Archive) List(ctx context.Context, name string) ([]objectstore.ObjectMeta, error) {
	prefix := objectstore.JoinKey(a.prefix, name)
	if prefix != "" {
		prefix += "/"
	}
	return a.store.List(ctx, prefix)
}

// Fetch downloads and decodes one archived manifest.
func (a *Archive) Fetch(ctx context.Context, key string) (*Manifest, error) {
	rc, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("engine: read archived manifest %s: %w", key, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("engine: decode archived manifest %s: %w", key, err)
	}
	return &m, nil
}

// Close closes the underlying store.
func (a *Archive) Close() error {
	return a.store.Close()
}
