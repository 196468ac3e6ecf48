package protocol

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func FuzzValueParser(f *testing.F) {
	f.Add([]byte("VALUE foo 0 3\r\nbar\r\nEND\r\n"), uint8(1))
	f.Add([]byte("VALUE foo 0 3 99\r\nbar\r\nEND\r\n"), uint8(3))
	f.Add([]byte("ERROR\r\n"), uint8(2))
	f.Add([]byte("SERVER_ERROR out of memory\r\n"), uint8(5))
	f.Add([]byte("VALUE foo 0 999999999999999999999\r\n"), uint8(7))
	f.Add([]byte("VALUE a 1 9223372036854775807\r\n"), uint8(4))
	f.Add([]byte("VALUE\r\nVALUE \r\n"), uint8(1))

	f.Fuzz(func(t *testing.T, input []byte, step uint8) {
		chunk := int(step%16) + 1
		p := NewValueParser(make([]byte, 64))

		// Must never panic, whatever the bytes and however they are split.
		for len(input) > 0 {
			n := copy(p.FillTarget(), input[:min(chunk, len(input))])
			p.Commit(n)
			input = input[n:]

			for {
				v, err := p.Next()
				if err != nil {
					if !errors.Is(err, ErrNeedMore) {
						return
					}
					break
				}
				require.LessOrEqual(t, len(v.Data), 62)
			}
			if err := p.CompactPending(); err != nil {
				return
			}
		}
	})
}

func FuzzValueParserSplitInvariance(f *testing.F) {
	f.Add("foo", uint32(0), []byte("bar"), uint8(3))
	f.Add("k", uint32(65535), []byte("END\r\n"), uint8(9))
	f.Add("user:42", uint32(1<<31), []byte{}, uint8(0))

	f.Fuzz(func(t *testing.T, key string, flags uint32, data []byte, split uint8) {
		if !IsValidKey(key) || len(data) > 512 {
			t.Skip()
		}
		input := "VALUE " + key + " " + strconv.FormatUint(uint64(flags), 10) + " " +
			strconv.Itoa(len(data)) + "\r\n" + string(data) + "\r\nEND\r\n"
		at := int(split) % len(input)

		whole, err := feedValues(t, 1024, input)
		require.ErrorIs(t, err, ErrEnd)

		parts, err := feedValues(t, 1024, input[:at], input[at:])
		require.ErrorIs(t, err, ErrEnd)

		require.Len(t, whole, 1)
		require.Equal(t, key, whole[0].Key)
		require.Equal(t, flags, whole[0].Flags)
		require.Equal(t, string(data), string(whole[0].Data))
		require.Equal(t, whole, parts)
	})
}

func FuzzListingParser(f *testing.F) {
	f.Add([]byte("key=foo exp=-1 la=1 cas=2\nEND\r\n"), uint8(1))
	f.Add([]byte("key=%zz exp=1 la=1\n"), uint8(4))
	f.Add([]byte("BUSY currently processing crawler request\r\n"), uint8(8))
	f.Add([]byte("key=key=key= exp= la=\n\n\n"), uint8(2))

	f.Fuzz(func(t *testing.T, input []byte, step uint8) {
		chunk := int(step%16) + 1
		p := NewListingParser(make([]byte, 64))

		for len(input) > 0 {
			n := copy(p.FillTarget(), input[:min(chunk, len(input))])
			p.Commit(n)
			input = input[n:]

			for {
				entry, err := p.Next()
				if errors.Is(err, ErrNeedMore) {
					break
				}
				if err == nil {
					require.True(t, IsValidKey(entry.Key))
				}
			}
			if p.ReachedEnd() || p.TerminalError() != nil {
				return
			}
			if err := p.CompactPending(); err != nil {
				return
			}
		}
	})
}
