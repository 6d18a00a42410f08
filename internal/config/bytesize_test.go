package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	fracMB := 1.2 * 1024 * 1024 // non-integral: must convert at runtime, not as a constant
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"500KB", 500 * 1024, false},
		{"1.2MB", int64(fracMB), false},
		{"2 GiB", 2 * 1024 * 1024 * 1024, false},
		{"0", 0, false},
		{"", 0, true},
		{"12XB", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Bytes())
		})
	}
}

func TestByteSizeUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("1.2MB")))
	fracMB := 1.2 * 1024 * 1024 // non-integral: must convert at runtime, not as a constant
	assert.Equal(t, int64(fracMB), b.Bytes())
}

func TestByteSizeUnmarshalJSON(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalJSON([]byte(`"5MB"`)))
	assert.Equal(t, int64(5*1024*1024), b.Bytes())

	require.NoError(t, b.UnmarshalJSON([]byte(`4096`)))
	assert.Equal(t, int64(4096), b.Bytes())
}

func TestByteSizeString(t *testing.T) {
	assert.Equal(t, "512B", ByteSize(512).String())
	assert.Equal(t, "500KB", ByteSize(500*1024).String())
	assert.Equal(t, "1.5MB", ByteSize(1536*1024).String())
}
