package config

import (
	"errors"
	"fmt"

	"github.com/ncw/directio"
)

var (
	compressors   = []string{"none", "snappy", "zlib", "zstd", "lz4"}
	backpressures = []string{"block", "drop-newest", "drop-oldest"}
	trimModes     = []string{"punch-hole", "fstrim", "none"}
	strategies    = []string{"none", "size", "name", "split"}
)

// Validate checks ranges and enumerations. All violations are reported
// together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: "+format, args...))
	}

	if c.Engine.Dir == "" && !c.Engine.InMemory {
		add("engine.dir is required unless engine.inMemory is set")
	}
	if c.Engine.CacheSizeGB != 0 && (c.Engine.CacheSizeGB < 1 || c.Engine.CacheSizeGB > 10000) {
		add("engine.cacheSizeGB %d out of range [1, 10000]", c.Engine.CacheSizeGB)
	}
	if !oneOf(c.Engine.JournalCompressor, compressors) {
		add("engine.journalCompressor %q must be one of %v", c.Engine.JournalCompressor, compressors)
	}
	if !oneOf(c.Engine.BlockCompressor, compressors) {
		add("engine.blockCompressor %q must be one of %v", c.Engine.BlockCompressor, compressors)
	}

	if c.Checkpoint.WaitSecs < 0 {
		add("checkpoint.waitSecs must not be negative")
	}
	if c.Checkpoint.LogSizeBytes < 0 {
		add("checkpoint.logSizeBytes must not be negative")
	}

	if c.Trim.Enabled {
		if c.Trim.Freq < 1 || c.Trim.Freq > 1_000_000_000 {
			add("trim.freq %d out of range [1, 1000000000]", c.Trim.Freq)
		}
		if c.Trim.Capacity < 1 {
			add("trim.capacity must be positive")
		}
		if c.Trim.MinLengthBytes < 0 {
			add("trim.minLengthBytes must not be negative")
		}
		if c.Trim.IntervalMs < 0 || c.Trim.CooldownMs < 0 || c.Trim.TriggerBytes < 0 {
			add("trim durations and byte thresholds must not be negative")
		}
	}
	if !oneOf(c.Trim.Backpressure, backpressures) {
		add("trim.backpressure %q must be one of %v", c.Trim.Backpressure, backpressures)
	}
	if !oneOf(c.Trim.Mode, trimModes) {
		add("trim.mode %q must be one of %v", c.Trim.Mode, trimModes)
	}

	if c.IO.Alignment < 0 || (c.IO.Alignment > 0 && c.IO.Alignment&(c.IO.Alignment-1) != 0) {
		add("io.alignment %d must be zero or a power of two", c.IO.Alignment)
	}
	if c.IO.MaxChunkBytes < 1 {
		add("io.maxChunkBytes must be positive")
	} else if c.IO.DirectIO {
		align := int64(c.IO.Alignment)
		if align == 0 {
			align = int64(directio.AlignSize)
		}
		if align > 0 && c.IO.MaxChunkBytes%align != 0 {
			add("io.maxChunkBytes %d must be a multiple of the direct I/O alignment %d", c.IO.MaxChunkBytes, align)
		}
	}
	p := c.IO.Placement
	if !oneOf(p.Strategy, strategies) {
		add("io.placement.strategy %q must be one of %v", p.Strategy, strategies)
	}
	if p.Boundary < 1 || p.Boundary > 100_000_000_000 {
		add("io.placement.boundary %d out of range [1, 100000000000]", p.Boundary)
	}
	if p.LeftStream < 0 || p.RightStream < 0 {
		add("io.placement streams must not be negative")
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		add("archive.bucket is required when archive.enabled is set")
	}

	return errors.Join(errs...)
}

func oneOf(s string, allowed []string) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}
