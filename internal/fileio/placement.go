package fileio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/strata-io/strata/internal/logging"
)

// Stream identifies a device placement stream. StreamNone means no hint.
type Stream int

const (
	StreamNone Stream = iota
	StreamOther
	StreamIndex
	StreamJournal
	StreamCollection
)

// Size thresholds for the size strategy.
const (
	sizeStop1 = 4096
	sizeStop2 = 28672
	sizeStop3 = 32768
)

// fibmapBlockSize converts file offsets to logical block numbers.
const fibmapBlockSize = 4096

// Target is what a placement policy inspects: the file's role, by name, and
// its descriptor for physical lookups.
type Target interface {
	Name() string
	Fd() uintptr
}

// PlacementPolicy selects a stream for a write. ok is false when the policy
// has no opinion and no hint should be issued.
type PlacementPolicy interface {
	Place(t Target, offset int64, length int) (stream Stream, ok bool)
	Strategy() string
}

// BlockMapper maps a logical file block to its physical block.
type BlockMapper interface {
	PhysicalBlock(fd uintptr, logical uint64) (uint64, error)
}

// PlacementConfig selects and parameterizes a placement strategy.
type PlacementConfig struct {
	Strategy          string
	Boundary          int64
	CollectionPattern string
	IndexPattern      string
	JournalPattern    string
	LeftStream        Stream
	RightStream       Stream

	// CacheEntries bounds the split strategy's block-map cache.
	CacheEntries int64
	Mapper       BlockMapper
	Logger       *logging.Logger
}

// NewPlacement builds the named strategy. "none" and "" return a nil policy.
func NewPlacement(cfg PlacementConfig) (PlacementPolicy, error) {
	names := nameMatcher{
		collection: orDefault(cfg.CollectionPattern, "collection"),
		index:      orDefault(cfg.IndexPattern, "index"),
		journal:    orDefault(cfg.JournalPattern, "journal"),
	}

	switch cfg.Strategy {
	case "", "none":
		return nil, nil
	case "size":
		return sizePolicy{}, nil
	case "name":
		return namePolicy{names: names}, nil
	case "split":
		p, err := newSplitPolicy(cfg, names)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("fileio: unknown placement strategy %q", cfg.Strategy)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

type nameMatcher struct {
	collection string
	index      string
	journal    string
}

func (m nameMatcher) classify(name string) Stream {
	switch {
	case strings.Contains(name, m.collection):
		return StreamCollection
	case strings.Contains(name, m.index):
		return StreamIndex
	case strings.Contains(name, m.journal):
		return StreamJournal
	default:
		return StreamOther
	}
}

type sizePolicy struct{}

func (sizePolicy) Strategy() string { return "size" }

func (sizePolicy) Place(_ Target, _ int64, length int) (Stream, bool) {
	switch {
	case length >= sizeStop3:
		return 4, true
	case length >= sizeStop2:
		return 3, true
	case length >= sizeStop1:
		return 2, true
	default:
		return 1, true
	}
}

type namePolicy struct {
	names nameMatcher
}

func (namePolicy) Strategy() string { return "name" }

func (p namePolicy) Place(t Target, _ int64, _ int) (Stream, bool) {
	return p.names.classify(t.Name()), true
}

// splitPolicy sends collection writes to one of two streams depending on
// whether their physical block lies below the boundary. Other files get no
// hint.
type splitPolicy struct {
	names    nameMatcher
	boundary uint64
	left     Stream
	right    Stream
	mapper   BlockMapper
	cache    *ristretto.Cache[string, uint64]
	logger   *logging.Logger
}

func newSplitPolicy(cfg PlacementConfig, names nameMatcher) (*splitPolicy, error) {
	if cfg.Boundary <= 0 {
		return nil, fmt.Errorf("fileio: split boundary must be positive, got %d", cfg.Boundary)
	}
	entries := cfg.CacheEntries
	if entries <= 0 {
		entries = 1 << 16
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, uint64]{
		NumCounters:        entries * 10,
		MaxCost:            entries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("fileio: block map cache: %w", err)
	}
	mapper := cfg.Mapper
	if mapper == nil {
		mapper = FIBMapper{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Global()
	}
	left, right := cfg.LeftStream, cfg.RightStream
	if left == StreamNone {
		left = 1
	}
	if right == StreamNone {
		right = 2
	}
	return &splitPolicy{
		names:    names,
		boundary: uint64(cfg.Boundary),
		left:     left,
		right:    right,
		mapper:   mapper,
		cache:    cache,
		logger:   logger.WithComponent("placement"),
	}, nil
}

func (*splitPolicy) Strategy() string { return "split" }

func (p *splitPolicy) Place(t Target, offset int64, _ int) (Stream, bool) {
	name := t.Name()
	if p.names.classify(name) != StreamCollection {
		return StreamNone, false
	}
	physical := p.physicalBlock(t, name, uint64(offset)/fibmapBlockSize)
	if physical < p.boundary {
		return p.left, true
	}
	return p.right, true
}

func (p *splitPolicy) physicalBlock(t Target, name string, logical uint64) uint64 {
	key := name + ":" + strconv.FormatUint(logical, 10)
	if v, ok := p.cache.Get(key); ok {
		return v
	}
	physical, err := p.mapper.PhysicalBlock(t.Fd(), logical)
	if err != nil {
		// Unmapped or unsupported: fall back to the logical block.
		p.logger.Debugf("block map lookup failed", map[string]any{
			"file":    name,
			"logical": logical,
			"error":   err.Error(),
		})
		return logical
	}
	p.cache.Set(key, physical, 1)
	return physical
}

// Close releases the block-map cache.
func (p *splitPolicy) Close() {
	p.cache.Close()
}

// ClosePlacement releases resources held by p, if any.
func ClosePlacement(p PlacementPolicy) {
	if c, ok := p.(interface{ Close() }); ok {
		c.Close()
	}
}
