package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsIsACopy(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Add(PageRecord{URL: "https://example.edu/a"})
	c.Add(PageRecord{URL: "https://example.edu/b"})

	records := c.Records()
	require.Len(t, records, 2)
	records[0].URL = "mutated"

	require.Equal(t, "https://example.edu/a", c.Records()[0].URL)
	require.Equal(t, 2, c.Len())
}
