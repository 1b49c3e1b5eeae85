package tag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	p := NewParser("EIT")
	for _, tc := range []struct {
		in   string
		want int
	}{
		{"EIT-1", 1},
		{"EIT-7", 7},
		{"EIT-10", 10},
		{"EIT-123456", 123456},
	} {
		got, err := p.Parse(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, Tag{Project: "EIT", Number: tc.want}, got)
		assert.Equal(t, tc.in, got.String())
	}
}

func TestParseLeadingZeroRedirects(t *testing.T) {
	p := NewParser("EIT")
	for in, want := range map[string]string{
		"EIT-007": "EIT-7",
		"EIT-01":  "EIT-1",
		"EIT-010": "EIT-10",
	} {
		_, err := p.Parse(in)
		var re *RedirectError
		require.True(t, errors.As(err, &re), "%s: %v", in, err)
		assert.Equal(t, want, re.Canonical.String())
	}
}

func TestParseInvalid(t *testing.T) {
	p := NewParser("EIT")
	for _, in := range []string{
		"", "EIT", "EIT-", "EIT-abc", "EIT-1a", "EIT-0", "EIT-000",
		"EIT--3", "EIT-+3", "EIT-1.5", "EIT-99999999999999999999999",
	} {
		_, err := p.Parse(in)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, in)
	}
}

func TestParseUnknownProject(t *testing.T) {
	p := NewParser("EIT")
	_, err := p.Parse("ABC-4")
	assert.ErrorIs(t, err, ErrUnknownProject)

	// splits on the first hyphen only
	_, err = p.Parse("EIT-X-4")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "EIT-007", Tag{"EIT", 7}.Display())
	assert.Equal(t, "EIT-1234", Tag{"EIT", 1234}.Display())
}
