package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDomainBlocklist(t *testing.T) {
	t.Parallel()

	t.Run("exact match", func(t *testing.T) {
		t.Parallel()
		bl := NewDomainBlocklist([]string{"www.nyu.edu"})
		require.NotNil(t, bl)
		require.True(t, bl.IsBlocked("www.nyu.edu"))
		require.True(t, bl.IsBlocked("WWW.NYU.EDU"))
		require.True(t, bl.IsBlocked("https://www.nyu.edu/admissions"))
		require.False(t, bl.IsBlocked("nyu.edu"))
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		t.Parallel()
		bl := NewDomainBlocklist([]string{"*.example.org", ".example.net"})
		cases := map[string]bool{
			"example.org":        true,
			"a.b.example.org":    true,
			"example.net":        true,
			"www.example.net":    true,
			"notexample.org":     false,
			"www.example.edu":    false,
		}
		for host, want := range cases {
			require.Equal(t, want, bl.IsBlocked(host), host)
		}
	})

	t.Run("empty configuration", func(t *testing.T) {
		t.Parallel()
		bl := NewDomainBlocklist([]string{"", "  "})
		require.Nil(t, bl)
		require.False(t, bl.IsBlocked("anything.edu"))
	})
}
