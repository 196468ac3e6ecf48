package mcdump

// MaxFetchAttempts is the number of fetch rounds after which a key that never
// came back is considered evicted.
const MaxFetchAttempts = 3

// KeyRecord is the dump state of one key during a pass.
type KeyRecord struct {
	Key    string
	Expiry int32
	Flags  uint32
	Value  []byte

	complete bool
	attempts uint8
	seq      uint64
}

// NewKeyRecord returns the record of a key seen in the listing.
func NewKeyRecord(key string, expiry int32) *KeyRecord {
	return &KeyRecord{Key: key, Expiry: expiry}
}

// SetValue stores a copy of value and marks the record complete.
func (r *KeyRecord) SetValue(flags uint32, value []byte) {
	r.Flags = flags
	r.Value = append(r.Value[:0], value...)
	r.complete = true
}

// RecordAttempt counts one fetch round that asked for the key.
func (r *KeyRecord) RecordAttempt() {
	if r.attempts < MaxFetchAttempts {
		r.attempts++
	}
}

func (r *KeyRecord) Complete() bool { return r.complete }

func (r *KeyRecord) Attempts() int { return int(r.attempts) }

// PossiblyEvicted reports whether the key went missing from every fetch round
// allowed. This is a hint: the key was most likely evicted or expired between
// the listing and the fetch.
func (r *KeyRecord) PossiblyEvicted() bool {
	return !r.complete && r.attempts >= MaxFetchAttempts
}

// PendingKeys holds the records of one worker awaiting their value.
// It is not safe for concurrent use.
type PendingKeys struct {
	records map[string]*KeyRecord

	// order is the listing order, oldest first. Entries whose seq no longer
	// matches the record are stale and skipped.
	order []pendingEntry
	head  int
	seq   uint64
}

type pendingEntry struct {
	key string
	seq uint64
}

func NewPendingKeys() *PendingKeys {
	return &PendingKeys{records: make(map[string]*KeyRecord)}
}

// Add inserts rec unless its key is already pending. It reports whether rec
// was inserted.
func (p *PendingKeys) Add(rec *KeyRecord) bool {
	if _, ok := p.records[rec.Key]; ok {
		return false
	}
	p.seq++
	rec.seq = p.seq
	p.records[rec.Key] = rec
	p.order = append(p.order, pendingEntry{key: rec.Key, seq: rec.seq})
	return true
}

func (p *PendingKeys) Get(key string) (*KeyRecord, bool) {
	rec, ok := p.records[key]
	return rec, ok
}

func (p *PendingKeys) Remove(key string) {
	delete(p.records, key)
	p.trim()
}

func (p *PendingKeys) Len() int {
	return len(p.records)
}

// Keys returns up to n pending keys, oldest first.
func (p *PendingKeys) Keys(n int) []string {
	keys := make([]string, 0, min(n, len(p.records)))
	for i := p.head; i < len(p.order) && len(keys) < n; i++ {
		if p.live(p.order[i]) {
			keys = append(keys, p.order[i].key)
		}
	}
	return keys
}

func (p *PendingKeys) live(e pendingEntry) bool {
	rec, ok := p.records[e.key]
	return ok && rec.seq == e.seq
}

// trim drops stale entries from the front of order and reclaims the space
// once most of it is dead.
func (p *PendingKeys) trim() {
	for p.head < len(p.order) && !p.live(p.order[p.head]) {
		p.order[p.head] = pendingEntry{}
		p.head++
	}
	if p.head == len(p.order) {
		p.order = p.order[:0]
		p.head = 0
		return
	}
	if p.head > len(p.order)/2 {
		n := copy(p.order, p.order[p.head:])
		clear(p.order[n:])
		p.order = p.order[:n]
		p.head = 0
	}
}
