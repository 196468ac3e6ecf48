package bytesize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{"1024", 1024, false},
		{"64Mi", 64 * MiB, false},
		{"64MiB", 64 * MiB, false},
		{"1GB", GB, false},
		{" 2 ki ", 2 * KiB, false},
		{"1.5Ki", 1536, false},
		{"", 0, true},
		{"12parsecs", 0, true},
		{"Mi", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestString(t *testing.T) {
	require.Equal(t, "2Gi", (2 * GiB).String())
	require.Equal(t, "64Mi", (64 * MiB).String())
	require.Equal(t, "1000", KB.String())

	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte((3 * MiB).String())))
	require.Equal(t, 3*MiB, b)
}
