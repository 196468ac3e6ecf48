package mcdump

import (
	"sync/atomic"
)

// DumpStats counts the progress of a dump.
//
// For Prometheus integration, every field is exposed as a counter with a host
// label (see MetricsCollector).
type DumpStats struct {
	KeysListed     uint64 // Keys read from listings
	KeysRelisted   uint64 // Listing lines repeating a key already listed
	KeysExpiring   uint64 // Keys skipped because they expire soon
	KeysNotOwned   uint64 // Keys skipped because another dumper owns them
	KeysDumped     uint64 // Keys written to data files
	KeysEvicted    uint64 // Keys given up on after MaxFetchAttempts rounds
	MalformedLines uint64 // Listing lines that could not be parsed
	FetchRounds    uint64 // Multi-key get commands sent
	BytesWritten   uint64 // Record bytes written to data files
	FilesFinalized uint64 // Data files moved to final/
	BufferWaits    uint64 // Times a worker waited for a pooled buffer
}

// Add returns the field-wise sum of s and o.
func (s DumpStats) Add(o DumpStats) DumpStats {
	return DumpStats{
		KeysListed:     s.KeysListed + o.KeysListed,
		KeysRelisted:   s.KeysRelisted + o.KeysRelisted,
		KeysExpiring:   s.KeysExpiring + o.KeysExpiring,
		KeysNotOwned:   s.KeysNotOwned + o.KeysNotOwned,
		KeysDumped:     s.KeysDumped + o.KeysDumped,
		KeysEvicted:    s.KeysEvicted + o.KeysEvicted,
		MalformedLines: s.MalformedLines + o.MalformedLines,
		FetchRounds:    s.FetchRounds + o.FetchRounds,
		BytesWritten:   s.BytesWritten + o.BytesWritten,
		FilesFinalized: s.FilesFinalized + o.FilesFinalized,
		BufferWaits:    s.BufferWaits + o.BufferWaits,
	}
}

// dumpStatsCollector provides internal methods for updating dump stats.
// Not exported - workers update their own stats.
type dumpStatsCollector struct {
	stats *DumpStats
}

func newDumpStatsCollector() *dumpStatsCollector {
	return &dumpStatsCollector{
		stats: &DumpStats{},
	}
}

func (c *dumpStatsCollector) recordListed(skip Skip) {
	atomic.AddUint64(&c.stats.KeysListed, 1)
	switch skip {
	case SkipExpiring:
		atomic.AddUint64(&c.stats.KeysExpiring, 1)
	case SkipNotOwned:
		atomic.AddUint64(&c.stats.KeysNotOwned, 1)
	}
}

func (c *dumpStatsCollector) recordRelisted() {
	atomic.AddUint64(&c.stats.KeysRelisted, 1)
}

func (c *dumpStatsCollector) recordMalformed() {
	atomic.AddUint64(&c.stats.MalformedLines, 1)
}

func (c *dumpStatsCollector) recordRound() {
	atomic.AddUint64(&c.stats.FetchRounds, 1)
}

func (c *dumpStatsCollector) recordDumped(bytes int) {
	atomic.AddUint64(&c.stats.KeysDumped, 1)
	atomic.AddUint64(&c.stats.BytesWritten, uint64(bytes))
}

func (c *dumpStatsCollector) recordEvicted(n int) {
	atomic.AddUint64(&c.stats.KeysEvicted, uint64(n))
}

func (c *dumpStatsCollector) recordFile() {
	atomic.AddUint64(&c.stats.FilesFinalized, 1)
}

func (c *dumpStatsCollector) recordBufferWait() {
	atomic.AddUint64(&c.stats.BufferWaits, 1)
}

func (c *dumpStatsCollector) snapshot() DumpStats {
	return DumpStats{
		KeysListed:     atomic.LoadUint64(&c.stats.KeysListed),
		KeysRelisted:   atomic.LoadUint64(&c.stats.KeysRelisted),
		KeysExpiring:   atomic.LoadUint64(&c.stats.KeysExpiring),
		KeysNotOwned:   atomic.LoadUint64(&c.stats.KeysNotOwned),
		KeysDumped:     atomic.LoadUint64(&c.stats.KeysDumped),
		KeysEvicted:    atomic.LoadUint64(&c.stats.KeysEvicted),
		MalformedLines: atomic.LoadUint64(&c.stats.MalformedLines),
		FetchRounds:    atomic.LoadUint64(&c.stats.FetchRounds),
		BytesWritten:   atomic.LoadUint64(&c.stats.BytesWritten),
		FilesFinalized: atomic.LoadUint64(&c.stats.FilesFinalized),
		BufferWaits:    atomic.LoadUint64(&c.stats.BufferWaits),
	}
}
