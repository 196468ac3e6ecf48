package protocol

import (
	"bytes"
	"strconv"
)

// State is the position of the value parser within a VALUE block.
type State uint8

const (
	ExpectValueMarker State = iota
	ExpectKey
	ExpectFlags
	ExpectLength
	ExpectData
)

// transitions maps every state to the one following a successful token scan.
var transitions = [...]State{
	ExpectValueMarker: ExpectKey,
	ExpectKey:         ExpectFlags,
	ExpectFlags:       ExpectLength,
	ExpectLength:      ExpectData,
	ExpectData:        ExpectValueMarker,
}

func (s State) String() string {
	switch s {
	case ExpectValueMarker:
		return "expect-value-marker"
	case ExpectKey:
		return "expect-key"
	case ExpectFlags:
		return "expect-flags"
	case ExpectLength:
		return "expect-length"
	case ExpectData:
		return "expect-data"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Value is one block of a get response.
//
// Data aliases the parser window: it is only valid until the next
// CompactPending, Reset or network read. Copy it to keep it.
type Value struct {
	Key   string
	Flags uint32
	Data  []byte
}

// ValueParser scans a get response held in a Window.
//
// The scanners advance the state machine by exactly one step each time they
// find their token; Next drives them in order and keeps the fields of a
// partially received header across refills.
type ValueParser struct {
	w     *Window
	state State

	key    []byte
	flags  uint32
	length int
}

// NewValueParser returns a parser over buf.
func NewValueParser(buf []byte) *ValueParser {
	return &ValueParser{w: NewWindow(buf)}
}

// Window returns the window the parser scans.
func (p *ValueParser) Window() *Window { return p.w }

// State returns the current parse state.
func (p *ValueParser) State() State { return p.state }

// FillTarget returns where new bytes from the network must be appended.
func (p *ValueParser) FillTarget() []byte { return p.w.FillTarget() }

// RemainingCapacity returns the bytes of window still free for filling.
func (p *ValueParser) RemainingCapacity() int { return p.w.RemainingCapacity() }

// Commit marks n bytes written to FillTarget as filled.
func (p *ValueParser) Commit(n int) { p.w.Commit(n) }

// Pending returns the number of filled bytes not parsed yet.
func (p *ValueParser) Pending() int { return p.w.Pending() }

func (p *ValueParser) step() {
	p.state = transitions[p.state]
}

// NextValueMarker finds the next "VALUE " token within the pending bytes.
func (p *ValueParser) NextValueMarker() (int, bool) {
	pos := p.w.index(MarkerValue)
	if pos < 0 {
		return -1, false
	}
	p.w.advance(pos + len(MarkerValue))
	p.step()
	return pos, true
}

// NextSeparator finds the space ending the key or flags field.
func (p *ValueParser) NextSeparator() (int, bool) {
	pos := p.w.indexByte(Separator)
	if pos < 0 {
		return -1, false
	}
	p.w.advance(pos + 1)
	p.step()
	return pos, true
}

// NextHeaderEnd finds the CRLF ending the header line.
func (p *ValueParser) NextHeaderEnd() (int, bool) {
	pos := p.w.index(CRLF)
	if pos < 0 {
		return -1, false
	}
	p.w.advance(pos + len(CRLF))
	p.step()
	return pos, true
}

// ConsumeValue skips a data block of n bytes and its trailing CRLF and returns
// the position of the first data byte. It returns false, without moving the
// cursor, while the block is not fully buffered.
func (p *ValueParser) ConsumeValue(n int) (int, bool) {
	start := p.w.cursor
	if n < 0 || n > p.w.filled-start-len(CRLF) {
		return -1, false
	}
	p.w.advance(start + n + len(CRLF))
	p.step()
	return start, true
}

// ReachedTerminalEnd reports whether the response is complete.
// The check is made against the filled bytes, never the whole buffer.
func (p *ValueParser) ReachedTerminalEnd() bool {
	return p.state == ExpectValueMarker && p.w.HasSuffix(TerminalEnd)
}

// ReachedTerminalError reports whether the server rejected the command.
func (p *ValueParser) ReachedTerminalError() bool {
	return p.state == ExpectValueMarker && p.w.HasSuffix(TerminalError)
}

// CompactPending drops every parsed byte from the window. Header fields already
// parsed are kept by the parser, so compaction always starts at the cursor.
// It returns ErrWindowFull when nothing could be freed.
func (p *ValueParser) CompactPending() error {
	p.w.Compact(p.w.cursor)
	if p.w.RemainingCapacity() == 0 {
		return ErrWindowFull
	}
	return nil
}

// Reset prepares the parser for a new response.
func (p *ValueParser) Reset() {
	p.w.Reset()
	p.state = ExpectValueMarker
	p.key = p.key[:0]
	p.flags = 0
	p.length = 0
}

// Next returns the next complete value block.
//
// It returns ErrNeedMore when the window ends inside a block, ErrEnd once the
// END line is reached, a *ServerError for an error reply, a *ValueTooLargeError
// when a declared value cannot fit in the window and a *ParseError for a
// malformed header.
func (p *ValueParser) Next() (Value, error) {
	for {
		switch p.state {
		case ExpectValueMarker:
			if _, ok := p.NextValueMarker(); !ok {
				return Value{}, p.terminal()
			}

		case ExpectKey:
			start := p.w.cursor
			pos, ok := p.NextSeparator()
			if !ok {
				return Value{}, p.incompleteHeader()
			}
			key := p.w.buf[start:pos]
			if bytes.ContainsAny(key, "\r\n") || len(key) == 0 || len(key) > MaxKeyLength {
				return Value{}, &ParseError{Message: "invalid key in VALUE header " + strconv.Quote(string(key))}
			}
			p.key = append(p.key[:0], key...)

		case ExpectFlags:
			start := p.w.cursor
			pos, ok := p.NextSeparator()
			if !ok {
				return Value{}, p.incompleteHeader()
			}
			flags, err := strconv.ParseUint(string(p.w.buf[start:pos]), 10, 32)
			if err != nil {
				return Value{}, &ParseError{Message: "invalid flags in VALUE header", Err: err}
			}
			p.flags = uint32(flags)

		case ExpectLength:
			start := p.w.cursor
			pos, ok := p.NextHeaderEnd()
			if !ok {
				return Value{}, p.incompleteHeader()
			}
			field := p.w.buf[start:pos]
			// "gets" appends the CAS unique after the length.
			if i := bytes.IndexByte(field, ' '); i >= 0 {
				field = field[:i]
			}
			length, err := strconv.Atoi(string(field))
			if err != nil || length < 0 {
				return Value{}, &ParseError{Message: "invalid length in VALUE header", Err: err}
			}
			if length > p.w.Cap()-len(CRLF) {
				return Value{}, &ValueTooLargeError{Key: string(p.key), Size: length, Capacity: p.w.Cap()}
			}
			p.length = length

		case ExpectData:
			start, ok := p.ConsumeValue(p.length)
			if !ok {
				return Value{}, ErrNeedMore
			}
			end := start + p.length
			if !bytes.Equal(p.w.buf[end:end+len(CRLF)], []byte(CRLF)) {
				return Value{}, &ParseError{Message: "data block of " + strconv.Quote(string(p.key)) + " not terminated by CRLF"}
			}
			return Value{
				Key:   string(p.key),
				Flags: p.flags,
				Data:  p.w.buf[start:end],
			}, nil
		}
	}
}

// terminal classifies pending bytes that hold no VALUE token.
func (p *ValueParser) terminal() error {
	switch {
	case p.ReachedTerminalEnd():
		return ErrEnd
	case p.ReachedTerminalError():
		return &ServerError{Message: TerminalError[:len(TerminalError)-len(CRLF)]}
	}
	if err := replyError(p.w.PendingBytes()); err != nil {
		return err
	}
	return ErrNeedMore
}

// incompleteHeader tells a header still arriving from a header line that ended
// before all of its fields.
func (p *ValueParser) incompleteHeader() error {
	if p.w.index(CRLF) >= 0 {
		return &ParseError{Message: "truncated VALUE header in state " + p.state.String()}
	}
	return ErrNeedMore
}
