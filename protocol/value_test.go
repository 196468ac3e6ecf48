package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// feedValues runs a value parser over chunks and returns the values it yields
// and the error that ended the response.
func feedValues(t testing.TB, size int, chunks ...string) ([]Value, error) {
	t.Helper()

	p := NewValueParser(make([]byte, size))
	var values []Value

	for _, chunk := range chunks {
		for len(chunk) > 0 {
			n := copy(p.FillTarget(), chunk)
			p.Commit(n)
			chunk = chunk[n:]

			for {
				v, err := p.Next()
				if errors.Is(err, ErrNeedMore) {
					break
				}
				if err != nil {
					return values, err
				}
				v.Data = bytes.Clone(v.Data)
				values = append(values, v)
			}
			if err := p.CompactPending(); err != nil {
				return values, err
			}
		}
	}
	return values, ErrNeedMore
}

func TestValueParser_SingleValue(t *testing.T) {
	values, err := feedValues(t, 64, "VALUE foo 0 3\r\nbar\r\nEND\r\n")

	require.ErrorIs(t, err, ErrEnd)
	require.Equal(t, []Value{{Key: "foo", Flags: 0, Data: []byte("bar")}}, values)
}

func TestValueParser_SplitAtEveryByte(t *testing.T) {
	input := "VALUE foo 0 3\r\nbar\r\nVALUE k2 65535 10\r\nEND\r\nVALUE\r\nEND\r\n"

	want, err := feedValues(t, 128, input)
	require.ErrorIs(t, err, ErrEnd)
	require.Equal(t, []Value{
		{Key: "foo", Flags: 0, Data: []byte("bar")},
		{Key: "k2", Flags: 65535, Data: []byte("END\r\nVALUE")},
	}, want)

	for i := 1; i < len(input); i++ {
		got, err := feedValues(t, 128, input[:i], input[i:])
		require.ErrorIs(t, err, ErrEnd, "split at %d", i)
		require.Equal(t, want, got, "split at %d", i)
	}

	got, err := feedValues(t, 32, strings.Split(input, "")...)
	require.ErrorIs(t, err, ErrEnd)
	require.Equal(t, want, got)
}

func TestValueParser_StateCycle(t *testing.T) {
	p := NewValueParser(make([]byte, 64))
	p.Commit(copy(p.FillTarget(), "VALUE foo 5 3\r\nbar\r\nEND\r\n"))

	require.Equal(t, ExpectValueMarker, p.State())

	pos, ok := p.NextValueMarker()
	require.True(t, ok)
	require.Equal(t, 0, pos)
	require.Equal(t, ExpectKey, p.State())

	pos, ok = p.NextSeparator()
	require.True(t, ok)
	require.Equal(t, 9, pos)
	require.Equal(t, ExpectFlags, p.State())

	pos, ok = p.NextSeparator()
	require.True(t, ok)
	require.Equal(t, 11, pos)
	require.Equal(t, ExpectLength, p.State())

	pos, ok = p.NextHeaderEnd()
	require.True(t, ok)
	require.Equal(t, 13, pos)
	require.Equal(t, ExpectData, p.State())

	start, ok := p.ConsumeValue(3)
	require.True(t, ok)
	require.Equal(t, 15, start)
	require.Equal(t, ExpectValueMarker, p.State())

	require.Equal(t, len(TerminalEnd), p.Pending())
	require.True(t, p.ReachedTerminalEnd())
	require.False(t, p.ReachedTerminalError())
}

func TestValueParser_ConsumeValueInsufficientData(t *testing.T) {
	p := NewValueParser(make([]byte, 64))
	p.Commit(copy(p.FillTarget(), "VALUE foo 0 5\r\nhel"))

	_, err := p.Next()
	require.ErrorIs(t, err, ErrNeedMore)
	require.Equal(t, ExpectData, p.State())

	cursor := p.Window().Cursor()
	_, ok := p.ConsumeValue(5)
	require.False(t, ok)
	require.Equal(t, cursor, p.Window().Cursor(), "insufficient data leaves the cursor alone")

	p.Commit(copy(p.FillTarget(), "lo\r"))
	_, ok = p.ConsumeValue(5)
	require.False(t, ok, "the trailing CRLF must be buffered too")

	p.Commit(copy(p.FillTarget(), "\n"))
	start, ok := p.ConsumeValue(5)
	require.True(t, ok)
	require.Equal(t, "hello", string(p.Window().Filled()[start:start+5]))
}

func TestValueParser_EmptyValue(t *testing.T) {
	values, err := feedValues(t, 64, "VALUE empty 1 0\r\n\r\nEND\r\n")

	require.ErrorIs(t, err, ErrEnd)
	require.Equal(t, []Value{{Key: "empty", Flags: 1, Data: []byte{}}}, values)
}

func TestValueParser_CasUniqueIgnored(t *testing.T) {
	values, err := feedValues(t, 64, "VALUE foo 0 3 12345\r\nbar\r\nEND\r\n")

	require.ErrorIs(t, err, ErrEnd)
	require.Len(t, values, 1)
	require.Equal(t, "bar", string(values[0].Data))
}

func TestValueParser_NoValues(t *testing.T) {
	values, err := feedValues(t, 16, "END\r\n")

	require.ErrorIs(t, err, ErrEnd)
	require.Empty(t, values)
}

func TestValueParser_ValueEndingLikeTerminator(t *testing.T) {
	p := NewValueParser(make([]byte, 64))
	p.Commit(copy(p.FillTarget(), "VALUE foo 0 3\r\nEND\r\n"))

	v, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, "END", string(v.Data))

	_, err = p.Next()
	require.ErrorIs(t, err, ErrNeedMore, "the data block is not the END line")
	require.False(t, p.ReachedTerminalEnd())
}

func TestValueParser_ServerErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"error", "ERROR\r\n"},
		{"client error", "CLIENT_ERROR bad command line format\r\n"},
		{"server error", "SERVER_ERROR out of memory\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := feedValues(t, 64, tt.reply)

			var serverErr *ServerError
			require.ErrorAs(t, err, &serverErr)
		})
	}
}

func TestValueParser_TerminalError(t *testing.T) {
	p := NewValueParser(make([]byte, 64))
	p.Commit(copy(p.FillTarget(), "ERROR\r\n"))

	require.True(t, p.ReachedTerminalError())
	require.False(t, p.ReachedTerminalEnd())
}

func TestValueParser_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing length", "VALUE foo 0\r\nbar\r\nEND\r\n"},
		{"bad flags", "VALUE foo x 3\r\nbar\r\nEND\r\n"},
		{"negative length", "VALUE foo 0 -3\r\nbar\r\nEND\r\n"},
		{"bad length", "VALUE foo 0 abc\r\nbar\r\nEND\r\n"},
		{"data not terminated", "VALUE foo 0 2\r\nbar\r\nEND\r\n"},
		{"empty key", "VALUE  0 3\r\nbar\r\nEND\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := feedValues(t, 64, tt.input)

			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
		})
	}
}

func TestValueParser_ValueTooLarge(t *testing.T) {
	_, err := feedValues(t, 32, "VALUE big 0 100\r\n")

	var tooLarge *ValueTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, "big", tooLarge.Key)
	require.Equal(t, 100, tooLarge.Size)
	require.Equal(t, 32, tooLarge.Capacity)
}

func TestValueParser_Reset(t *testing.T) {
	p := NewValueParser(make([]byte, 64))
	p.Commit(copy(p.FillTarget(), "VALUE foo 0 3\r\nba"))
	_, err := p.Next()
	require.ErrorIs(t, err, ErrNeedMore)

	p.Reset()

	require.Equal(t, ExpectValueMarker, p.State())
	require.Equal(t, 0, p.Pending())
	require.Equal(t, 64, p.RemainingCapacity())
}

func TestState_String(t *testing.T) {
	require.Equal(t, "expect-value-marker", ExpectValueMarker.String())
	require.Equal(t, "expect-data", ExpectData.String())
	require.Equal(t, "State(9)", State(9).String())
}
