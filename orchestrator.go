package mcdump

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/pior/mcdump/protocol"
)

// DefaultBatchSize is the number of keys asked for by one fetch round.
const DefaultBatchSize = 30

// RecordHeaderSize is the size of a record header without its key.
const RecordHeaderSize = 2 + 4 + 4 + 4

var ErrShortHeader = errors.New("mcdump: short record header")

// RecordHeader precedes every value in a data file:
//
//	[2B key length][key][4B expiry][4B flags][4B value length]
//
// All integers are big-endian. Flags use the full 4-byte slot, which holds
// both 16-bit and 32-bit client flags.
type RecordHeader struct {
	Key      string
	Expiry   int32
	Flags    uint32
	ValueLen uint32
}

// AppendRecordHeader appends the header of rec to dst.
func AppendRecordHeader(dst []byte, rec *KeyRecord) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(rec.Key)))
	dst = append(dst, rec.Key...)
	dst = binary.BigEndian.AppendUint32(dst, uint32(rec.Expiry))
	dst = binary.BigEndian.AppendUint32(dst, rec.Flags)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(rec.Value)))
	return dst
}

// AppendRecord appends the header of rec followed by its value.
func AppendRecord(dst []byte, rec *KeyRecord) []byte {
	return append(AppendRecordHeader(dst, rec), rec.Value...)
}

// DecodeRecordHeader decodes the header at the start of b and returns it with
// its encoded size.
func DecodeRecordHeader(b []byte) (RecordHeader, int, error) {
	if len(b) < 2 {
		return RecordHeader{}, 0, ErrShortHeader
	}
	keyLen := int(binary.BigEndian.Uint16(b))
	size := RecordHeaderSize + keyLen
	if len(b) < size {
		return RecordHeader{}, 0, ErrShortHeader
	}

	rest := b[2+keyLen:]
	return RecordHeader{
		Key:      string(b[2 : 2+keyLen]),
		Expiry:   int32(binary.BigEndian.Uint32(rest)),
		Flags:    binary.BigEndian.Uint32(rest[4:]),
		ValueLen: binary.BigEndian.Uint32(rest[8:]),
	}, size, nil
}

// ExpiresSoon reports whether a key expiring at expiry (Unix seconds) is gone
// within threshold of now. Keys without expiry (-1, or 0 as stored) never
// expire soon.
func ExpiresSoon(now int64, expiry int32, threshold time.Duration) bool {
	if expiry <= 0 {
		return false
	}
	return int64(expiry) <= now+int64(threshold/time.Second)
}

// CraftFetchCommand builds a single multi-key get for up to batchSize of the
// oldest pending keys. Keys that cannot be sent on the text protocol are left
// out; the returned keys are those asked for, in command order.
func CraftFetchCommand(pending *PendingKeys, batchSize int) ([]byte, []string) {
	candidates := pending.Keys(batchSize)

	keys := candidates[:0]
	size := len(protocol.CmdGet) + len(protocol.CRLF)
	for _, key := range candidates {
		if protocol.IsValidKey(key) {
			keys = append(keys, key)
			size += 1 + len(key)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmd := make([]byte, 0, size)
	cmd = append(cmd, protocol.CmdGet...)
	for _, key := range keys {
		cmd = append(cmd, ' ')
		cmd = append(cmd, key...)
	}
	cmd = append(cmd, protocol.CRLF...)
	return cmd, keys
}

// Orchestrator applies the dump policy of one pass: which listed keys are
// worth fetching, how they are batched and when a missing key is given up.
// It holds no per-pass state and is shared by every worker.
type Orchestrator struct {
	filter          KeyFilter
	batchSize       int
	expiryThreshold time.Duration
}

// NewOrchestrator returns an orchestrator using filter for key ownership.
// A nil filter owns every key.
func NewOrchestrator(config *Config, filter KeyFilter) *Orchestrator {
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Orchestrator{
		filter:          filter,
		batchSize:       batchSize,
		expiryThreshold: config.ExpiryThreshold,
	}
}

// InitFilter initializes the key filter from the cluster layout.
func (o *Orchestrator) InitFilter(bucketCount int, destHosts, allHosts []string) error {
	if o.filter == nil {
		return nil
	}
	if err := o.filter.Init(bucketCount, destHosts, allHosts); err != nil {
		return fmt.Errorf("init key filter: %w", err)
	}
	return nil
}

func (o *Orchestrator) Owns(key string) bool {
	return o.filter == nil || o.filter.Owns(key)
}

// Skip tells why a listed key is not dumped, if it is not.
type Skip uint8

const (
	Keep Skip = iota
	SkipExpiring
	SkipNotOwned
)

// Classify decides whether a listed key must be dumped.
func (o *Orchestrator) Classify(entry protocol.ListingEntry, now int64) Skip {
	if ExpiresSoon(now, entry.Expiry, o.expiryThreshold) {
		return SkipExpiring
	}
	if !o.Owns(entry.Key) {
		return SkipNotOwned
	}
	return Keep
}

// CraftFetchCommand builds the next fetch round for pending and counts the
// attempt on every key it asks for. Keys that can never be asked for are
// dropped from pending.
func (o *Orchestrator) CraftFetchCommand(pending *PendingKeys) ([]byte, []string) {
	for _, key := range pending.Keys(o.batchSize) {
		if !protocol.IsValidKey(key) {
			pending.Remove(key)
		}
	}

	cmd, keys := CraftFetchCommand(pending, o.batchSize)
	for _, key := range keys {
		if rec, ok := pending.Get(key); ok {
			rec.RecordAttempt()
		}
	}
	return cmd, keys
}

// Settle applies the retry policy to the keys of a finished round that did
// not come back. It removes the records given up on and returns them.
func (o *Orchestrator) Settle(pending *PendingKeys, asked []string) []*KeyRecord {
	var evicted []*KeyRecord
	for _, key := range asked {
		rec, ok := pending.Get(key)
		if !ok || rec.Complete() {
			continue
		}
		if rec.PossiblyEvicted() {
			pending.Remove(key)
			evicted = append(evicted, rec)
		}
	}
	return evicted
}
