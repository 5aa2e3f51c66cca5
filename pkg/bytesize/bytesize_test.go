package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Size
		wantErr bool
	}{
		{name: "bare bytes", input: "1024", want: KB},
		{name: "kilobytes", input: "500KB", want: 500 * KB},
		{name: "megabytes", input: "8MB", want: 8 * MB},
		{name: "mebibytes", input: "8MiB", want: 8 * MB},
		{name: "gigabytes with space", input: "5 GB", want: 5 * GB},
		{name: "fractional", input: "1.5GB", want: Size(1.5 * float64(GB))},
		{name: "lowercase", input: "2gb", want: 2 * GB},
		{name: "terabytes", input: "1TB", want: TB},
		{name: "empty", input: "", wantErr: true},
		{name: "negative", input: "-5MB", wantErr: true},
		{name: "unknown unit", input: "5XB", wantErr: true},
		{name: "not a number", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		size Size
		want string
	}{
		{size: 512, want: "512B"},
		{size: KB, want: "1KiB"},
		{size: 8 * MB, want: "8MiB"},
		{size: Size(1.5 * float64(GB)), want: "1.50GiB"},
		{size: 5 * GB, want: "5GiB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.size.String())
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("bogus") })
}

func TestRoundTripText(t *testing.T) {
	var s Size
	require.NoError(t, s.UnmarshalText([]byte("5GiB")))
	assert.Equal(t, 5*GB, s)

	text, err := s.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "5GiB", string(text))
}
