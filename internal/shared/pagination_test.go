package shared

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePage(t *testing.T) {
	cases := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 50, 0},
		{"explicit", "limit=25&offset=75", 25, 75},
		{"zero limit falls back", "limit=0", 50, 0},
		{"negative values clamped", "limit=-5&offset=-10", 50, 0},
		{"limit capped", "limit=5000", 200, 0},
		{"garbage ignored", "limit=abc&offset=xyz", 50, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := url.ParseQuery(tc.query)
			require.NoError(t, err)
			page := ParsePage(q)
			require.Equal(t, tc.wantLimit, page.Limit)
			require.Equal(t, tc.wantOffset, page.Offset)
		})
	}
}

func TestPageWithCount(t *testing.T) {
	page := Page{Limit: 20, Offset: 40}
	counted := page.WithCount(13)
	require.Equal(t, 13, counted.Count)
	require.Equal(t, 20, counted.Limit)
	require.Equal(t, 0, page.Count)
}
