package mcdump

import (
	"errors"
	"fmt"
	"slices"

	"github.com/zeebo/xxh3"
)

// KeyFilter decides which keys belong to this dumper when several dumpers
// share a cluster. Each dumper owns a disjoint part of the key space, so no
// coordination is needed between them.
type KeyFilter interface {
	// Init partitions the key space across allHosts into bucketCount buckets
	// per host and assigns this dumper the buckets of destHosts.
	Init(bucketCount int, destHosts, allHosts []string) error

	// Owns reports whether key must be dumped here.
	Owns(key string) bool
}

// JumpFilter assigns keys to hosts with xxh3 and Jump consistent hashing.
// Until Init succeeds it owns every key.
type JumpFilter struct {
	buckets int
	owned   []bool // indexed by host position in allHosts
}

var _ KeyFilter = (*JumpFilter)(nil)

func NewJumpFilter() *JumpFilter {
	return &JumpFilter{}
}

func (f *JumpFilter) Init(bucketCount int, destHosts, allHosts []string) error {
	if bucketCount <= 0 {
		return fmt.Errorf("mcdump: filter bucket count must be positive, got %d", bucketCount)
	}
	if len(allHosts) == 0 {
		return errors.New("mcdump: filter needs at least one host")
	}

	owned := make([]bool, len(allHosts))
	for _, dest := range destHosts {
		i := slices.Index(allHosts, dest)
		if i < 0 {
			return fmt.Errorf("mcdump: destination host %s is not part of the cluster", dest)
		}
		owned[i] = true
	}

	f.buckets = bucketCount * len(allHosts)
	f.owned = owned
	return nil
}

func (f *JumpFilter) Owns(key string) bool {
	if f == nil || f.owned == nil {
		return true
	}
	bucket := jumpBucket(xxh3.HashString(key), f.buckets)
	return f.owned[bucket%len(f.owned)]
}

// HostIndex returns the position in allHosts of the host owning key, or -1
// before Init.
func (f *JumpFilter) HostIndex(key string) int {
	if f == nil || f.owned == nil {
		return -1
	}
	return jumpBucket(xxh3.HashString(key), f.buckets) % len(f.owned)
}

// jumpBucket maps hash to one of buckets with Lamping and Veach's Jump
// consistent hash: growing buckets by one only moves keys to the new bucket.
func jumpBucket(hash uint64, buckets int) int {
	if buckets <= 0 {
		return 0
	}

	b, j := int64(-1), int64(0)
	for j < int64(buckets) {
		b = j
		hash = hash*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((hash>>33)+1)))
	}
	return int(b)
}
