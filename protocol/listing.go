package protocol

import (
	"bytes"
	"strconv"
)

// ListingEntry is one line of an LRU crawler metadump.
type ListingEntry struct {
	Key        string
	Expiry     int32 // Unix time, or NeverExpires
	LastAccess int64 // Unix time of last access
}

// ListingParser scans key listing text held in a Window.
//
// The Next* scanners look for their marker from the cursor onward. On a match
// they move the cursor just past the marker and return the marker position.
// When the marker is not in the window they return false: the caller must read
// more bytes, never treat it as malformed input.
type ListingParser struct {
	w *Window

	// mark is the start of the entry being assembled by Next.
	mark int
}

// NewListingParser returns a parser over buf.
func NewListingParser(buf []byte) *ListingParser {
	return &ListingParser{w: NewWindow(buf)}
}

// Window returns the window the parser scans.
func (p *ListingParser) Window() *Window { return p.w }

// FillTarget returns where new bytes from the network must be appended.
func (p *ListingParser) FillTarget() []byte { return p.w.FillTarget() }

// RemainingCapacity returns the bytes of window still free for filling.
func (p *ListingParser) RemainingCapacity() int { return p.w.RemainingCapacity() }

// Commit marks n bytes written to FillTarget as filled.
func (p *ListingParser) Commit(n int) { p.w.Commit(n) }

func (p *ListingParser) NextKey() (int, bool) { return p.scan(MarkerKey) }

func (p *ListingParser) NextExpiry() (int, bool) { return p.scan(MarkerExpiry) }

func (p *ListingParser) NextLastAccess() (int, bool) { return p.scan(MarkerLastAccess) }

func (p *ListingParser) NextRecordEnd() (int, bool) { return p.scan(RecordEnd) }

func (p *ListingParser) scan(marker string) (int, bool) {
	pos := p.w.index(marker)
	if pos < 0 {
		return -1, false
	}
	p.w.advance(pos + len(marker))
	return pos, true
}

// Compact moves the tail starting at from to the start of the window.
func (p *ListingParser) Compact(from int) {
	p.w.Compact(from)
	p.mark = 0
}

// CompactPending compacts the window so that it keeps only the entry Next was
// unable to finish. It returns ErrWindowFull when that entry fills the whole
// window.
func (p *ListingParser) CompactPending() error {
	p.Compact(p.mark)
	if p.w.RemainingCapacity() == 0 {
		return ErrWindowFull
	}
	return nil
}

// Reset empties the window.
func (p *ListingParser) Reset() {
	p.w.Reset()
	p.mark = 0
}

// Next assembles the next complete entry. It returns ErrNeedMore when the
// window ends in the middle of an entry, and a *ParseError when an entry is
// complete but does not conform to the grammar.
//
// Next only moves the cursor past complete entries, so more bytes may be
// appended after ErrNeedMore with or without a CompactPending in between.
func (p *ListingParser) Next() (ListingEntry, error) {
	keyPos := p.w.index(MarkerKey)
	if keyPos < 0 {
		p.mark = p.w.cursor
		return ListingEntry{}, ErrNeedMore
	}
	p.mark = keyPos

	endPos := p.w.indexFrom(keyPos, RecordEnd)
	if endPos < 0 {
		return ListingEntry{}, ErrNeedMore
	}
	p.w.advance(endPos + len(RecordEnd))
	p.mark = p.w.cursor

	line := p.w.buf[keyPos:endPos]
	return parseListingLine(line)
}

// parseListingLine parses a line starting with "key=", without its terminator.
func parseListingLine(line []byte) (ListingEntry, error) {
	expPos := bytes.Index(line, []byte(" "+MarkerExpiry))
	if expPos < 0 {
		return ListingEntry{}, &ParseError{Message: "listing line without exp= field"}
	}
	laPos := bytes.Index(line[expPos:], []byte(" "+MarkerLastAccess))
	if laPos < 0 {
		return ListingEntry{}, &ParseError{Message: "listing line without la= field"}
	}
	laPos += expPos

	key, err := DecodeListingKey(line[len(MarkerKey):expPos])
	if err != nil {
		return ListingEntry{}, &ParseError{Message: "invalid key encoding", Err: err}
	}
	if !IsValidKey(key) {
		return ListingEntry{}, &ParseError{Message: "invalid key " + strconv.Quote(key)}
	}

	expiry, err := strconv.ParseInt(string(line[expPos+1+len(MarkerExpiry):laPos]), 10, 32)
	if err != nil {
		return ListingEntry{}, &ParseError{Message: "invalid exp= field", Err: err}
	}

	laField := line[laPos+1+len(MarkerLastAccess):]
	if i := bytes.IndexByte(laField, ' '); i >= 0 {
		laField = laField[:i]
	}
	lastAccess, err := strconv.ParseInt(string(bytes.TrimRight(laField, "\r")), 10, 64)
	if err != nil {
		return ListingEntry{}, &ParseError{Message: "invalid la= field", Err: err}
	}

	return ListingEntry{
		Key:        key,
		Expiry:     int32(expiry),
		LastAccess: lastAccess,
	}, nil
}

// ReachedEnd reports whether the listing is complete: the filled bytes end
// with the END line and no entry is left to parse.
func (p *ListingParser) ReachedEnd() bool {
	return p.w.HasSuffix(TerminalEnd) && p.w.index(MarkerKey) < 0
}

// TerminalError returns a *ServerError when the server refused the listing
// (crawler busy or disabled), nil otherwise.
func (p *ListingParser) TerminalError() error {
	return replyError(p.w.PendingBytes())
}

// replyError recognises a complete error line at the start of b.
func replyError(b []byte) error {
	line, _, found := bytes.Cut(b, []byte(CRLF))
	if !found {
		return nil
	}
	switch {
	case bytes.Equal(line, []byte(TerminalError[:len(TerminalError)-len(CRLF)])),
		bytes.HasPrefix(line, []byte(ErrorClientPrefix)),
		bytes.HasPrefix(line, []byte(ErrorServerPrefix)),
		bytes.HasPrefix(line, []byte(BusyPrefix)):
		return &ServerError{Message: string(line)}
	}
	return nil
}
