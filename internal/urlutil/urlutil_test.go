package urlutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"defaults to https", "//example.com/page", "https://example.com/page"},
		{"trims trailing slash", "https://example.com/page/", "https://example.com/page"},
		{"keeps root slash", "https://example.com", "https://example.com/"},
		{"sorts query params", "https://example.com/p?b=2&a=1", "https://example.com/p?a=1&b=2"},
		{"sorts repeated values", "https://example.com/p?a=2&a=1", "https://example.com/p?a=1&a=2"},
		{"drops fragment", "https://example.com/p#section", "https://example.com/p"},
		{"trims whitespace", "  https://example.com/p  ", "https://example.com/p"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestHashStableAcrossEquivalentSpellings(t *testing.T) {
	t.Parallel()
	a := Hash("HTTPS://Example.com/page/?b=2&a=1")
	b := Hash("https://example.com/page?a=1&b=2#frag")
	require.Equal(t, a, b)
	require.Len(t, a, 64)

	require.NotEqual(t, a, Hash("https://example.com/other"))
}

func TestDomain(t *testing.T) {
	t.Parallel()
	require.Equal(t, "example.com", Domain("https://Example.com:8080/page"))
	require.Equal(t, "example.com", Domain("example.com/page"))
	require.Equal(t, "unknown", Domain(""))
	require.Equal(t, "unknown", Domain("://bad"))
}
