package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPU(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"500m", 500},
		{"2", 2000},
		{"1000n", 0},
		{"1500000000n", 1500},
		{"0.5", 500},
	}
	for _, tc := range cases {
		got, err := ParseCPU(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseCPUInvalid(t *testing.T) {
	_, err := ParseCPU("")
	assert.Error(t, err)
	_, err = ParseCPU("not-a-number")
	assert.Error(t, err)
}

func TestParseMemory(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"256Mi", 256 * (1 << 20)},
		{"2Gi", 2 * (1 << 30)},
		{"2G", 2 * 1_000_000_000},
		{"1024", 1024},
		{"512Ki", 512 * (1 << 10)},
	}
	for _, tc := range cases {
		got, err := ParseMemory(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestFormatCPURoundTrip(t *testing.T) {
	for _, millis := range []int64{500, 2000, 250, 1500} {
		parsed, err := ParseCPU(FormatCPU(millis))
		require.NoError(t, err)
		assert.Equal(t, millis, parsed)
	}
}

func TestFormatMemoryRoundTrip(t *testing.T) {
	for _, bytes := range []int64{256 * (1 << 20), 2 * (1 << 30), 1 << 10} {
		parsed, err := ParseMemory(FormatMemory(bytes))
		require.NoError(t, err)
		assert.Equal(t, bytes, parsed)
	}
}
