package translate

import (
	"fmt"

	"weft/internal/coder"
)

// Tier is the configured persistence strategy for the combined tagged
// stream of a multi-output transform. The set of encoded tiers is open;
// only TierMemory selects the raw representation.
type Tier string

const (
	// TierMemory keeps the combined stream as native records, no encoding.
	TierMemory Tier = "memory"
	// TierMemorySerialized keeps encoded columnar rows on the heap.
	TierMemorySerialized Tier = "memory_ser"
	// Disk tiers spill encoded columnar rows to segment files.
	TierDisk     Tier = "disk"
	TierDiskLZ4  Tier = "disk_lz4"
	TierDiskZstd Tier = "disk_zstd"
)

func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierMemory, TierMemorySerialized, TierDisk, TierDiskLZ4, TierDiskZstd:
		return Tier(s), nil
	case "":
		return TierMemory, nil
	default:
		return "", fmt.Errorf("translate: unknown persistence tier %q", s)
	}
}

// Encoded reports whether the tier takes the columnar path. The decision
// is total: everything but the raw in-memory tier encodes.
func (t Tier) Encoded() bool { return t != TierMemory }

// Spills reports whether the columnar rows leave the heap.
func (t Tier) Spills() bool {
	return t == TierDisk || t == TierDiskLZ4 || t == TierDiskZstd
}

// Compression names the stream codec for spill segments.
func (t Tier) Compression() coder.Compression {
	switch t {
	case TierDiskLZ4:
		return coder.CompressionLZ4
	case TierDiskZstd:
		return coder.CompressionZstd
	default:
		return coder.CompressionNone
	}
}
