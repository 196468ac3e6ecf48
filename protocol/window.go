package protocol

import (
	"bytes"
	"fmt"
)

// Window is the active region of a pooled buffer: bytes [0, filled) have been
// received from the network and bytes [cursor, filled) are not parsed yet.
//
// 0 <= cursor <= filled <= cap(buf) always holds. The cursor only moves forward;
// Compact and Reset are the only operations that move it back to 0.
type Window struct {
	buf    []byte
	filled int
	cursor int
}

// NewWindow returns an empty window over buf. The window does not own buf:
// the caller returns it to its pool once the window is no longer used.
func NewWindow(buf []byte) *Window {
	return &Window{buf: buf[:cap(buf)]}
}

// Cap returns the size of the backing buffer.
func (w *Window) Cap() int { return len(w.buf) }

// Len returns the number of filled bytes.
func (w *Window) Len() int { return w.filled }

// Cursor returns the parse position.
func (w *Window) Cursor() int { return w.cursor }

// Pending returns the number of filled bytes not parsed yet.
func (w *Window) Pending() int { return w.filled - w.cursor }

// PendingBytes returns the filled bytes not parsed yet.
// The slice aliases the window and is only valid until the next Compact or Reset.
func (w *Window) PendingBytes() []byte { return w.buf[w.cursor:w.filled] }

// Filled returns every filled byte, parsed or not.
func (w *Window) Filled() []byte { return w.buf[:w.filled] }

// FillTarget returns the free space where the next network read must land,
// immediately after the retained bytes.
func (w *Window) FillTarget() []byte { return w.buf[w.filled:] }

// RemainingCapacity returns the number of bytes still free for filling.
func (w *Window) RemainingCapacity() int { return len(w.buf) - w.filled }

// Commit marks n more bytes of the fill target as filled.
func (w *Window) Commit(n int) {
	if n < 0 || n > w.RemainingCapacity() {
		panic(fmt.Sprintf("protocol: commit of %d bytes with %d free", n, w.RemainingCapacity()))
	}
	w.filled += n
}

// Append copies as much of p as fits into the fill target and commits it.
func (w *Window) Append(p []byte) int {
	n := copy(w.FillTarget(), p)
	w.filled += n
	return n
}

// Compact moves the unconsumed tail [from, filled) to the start of the buffer,
// zeroes the vacated bytes and resets the cursor. This is how a record split
// across two reads is reassembled.
func (w *Window) Compact(from int) {
	if from < 0 || from > w.filled {
		panic(fmt.Sprintf("protocol: compact from %d outside [0, %d]", from, w.filled))
	}
	n := copy(w.buf, w.buf[from:w.filled])
	clear(w.buf[n:w.filled])
	w.filled = n
	w.cursor = 0
}

// Reset empties the window.
func (w *Window) Reset() {
	clear(w.buf[:w.filled])
	w.filled = 0
	w.cursor = 0
}

// HasSuffix reports whether the filled bytes end with s and the whole of s is
// still unparsed. Bytes already consumed as part of a value never match.
func (w *Window) HasSuffix(s string) bool {
	return bytes.HasSuffix(w.PendingBytes(), []byte(s))
}

// index returns the absolute position of the first occurrence of marker
// in the pending bytes, or -1.
func (w *Window) index(marker string) int {
	return w.indexFrom(w.cursor, marker)
}

// indexFrom is index starting at from instead of the cursor. It does not move
// the cursor.
func (w *Window) indexFrom(from int, marker string) int {
	i := bytes.Index(w.buf[from:w.filled], []byte(marker))
	if i < 0 {
		return -1
	}
	return from + i
}

func (w *Window) indexByte(c byte) int {
	i := bytes.IndexByte(w.PendingBytes(), c)
	if i < 0 {
		return -1
	}
	return w.cursor + i
}

// advance moves the cursor forward to pos.
func (w *Window) advance(pos int) {
	if pos < w.cursor || pos > w.filled {
		panic(fmt.Sprintf("protocol: cursor move to %d outside [%d, %d]", pos, w.cursor, w.filled))
	}
	w.cursor = pos
}
