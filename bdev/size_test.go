package bdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFSSize(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"", 0},
		{"1g", 1_000_000_000},
		{"1024k", 1_024_000},
		{"1t", 1},
		{"0", 0},
		{"5m", 5_000_000},
	}

	for _, c := range cases {
		got, err := ParseFSSize(c.in)
		assert.NoError(t, err, "input %q", c.in)
		assert.Equal(t, c.want, got, "input %q", c.in)
	}
}

func TestParseFSSize_BadInput(t *testing.T) {
	_, err := ParseFSSize("abc")
	assert.Error(t, err)

	_, err = ParseFSSize("k")
	assert.Error(t, err)
}
