package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFrontier(t *testing.T, maxDepth int) *Frontier {
	t.Helper()
	filter, err := NewExclusionFilter(DefaultExclusionConfig())
	require.NoError(t, err)
	return NewFrontier(FrontierPolicy{
		Domain:            testDomain,
		MaxDepth:          maxDepth,
		MinScoreToEnqueue: 1,
		SeedScore:         1000,
	}, NewScorer(DefaultKeywords(), maxDepth), filter)
}

func TestFrontierAdmission(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t, 2)

	item, verdict := f.Offer("https://example.edu/admissions?utm_source=x#top", 1)
	require.Equal(t, AdmitOK, verdict)
	require.Equal(t, "https://example.edu/admissions", item.URL)
	require.Equal(t, 1, item.Depth)

	cases := []struct {
		name  string
		url   string
		depth int
		want  Admission
	}{
		{"visited at another depth", "https://example.edu/admissions", 2, RejectVisited},
		{"visited after normalization", "https://EXAMPLE.edu/admissions?utm_medium=mail", 0, RejectVisited},
		{"off host", "https://other.edu/admissions", 1, RejectOffHost},
		{"subdomain is off host", "https://www.example.edu/admissions", 1, RejectOffHost},
		{"invalid", "mailto:someone@example.edu", 1, RejectInvalid},
		{"excluded", "https://example.edu/blog/2024/post-1", 1, RejectExcluded},
		{"too deep", "https://example.edu/programs", 3, RejectDepth},
		{"score too low", "https://example.edu/contact", 1, RejectScore},
	}
	for _, tc := range cases {
		_, got := f.Offer(tc.url, tc.depth)
		require.Equal(t, tc.want, got, tc.name)
	}
	require.Equal(t, 1, f.Len())
	require.Equal(t, 1, f.VisitedCount())
	require.False(t, f.Visited("https://example.edu/contact"))
}

func TestFrontierKeepsOpaqueQueries(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t, 2)

	first, verdict := f.Offer("https://example.edu/programs?id=1;lang=en", 1)
	require.Equal(t, AdmitOK, verdict)
	require.Equal(t, "https://example.edu/programs?id=1;lang=en", first.URL)

	second, verdict := f.Offer("https://example.edu/programs?id=2;lang=en", 1)
	require.Equal(t, AdmitOK, verdict)
	require.Equal(t, "https://example.edu/programs?id=2;lang=en", second.URL)

	escaped, verdict := f.Offer("https://example.edu/programs?name=%zz&utm_source=x", 1)
	require.Equal(t, AdmitOK, verdict)
	require.Equal(t, "https://example.edu/programs?name=%zz", escaped.URL)

	_, verdict = f.Offer("https://example.edu/programs", 1)
	require.Equal(t, AdmitOK, verdict)

	_, verdict = f.Offer("https://example.edu/programs?utm_campaign=fall&id=1;lang=en", 2)
	require.Equal(t, RejectVisited, verdict)
	require.Equal(t, 4, f.VisitedCount())
}

func TestFrontierSeeds(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t, 2)

	item, verdict := f.OfferSeed("https://example.edu/contact")
	require.Equal(t, AdmitOK, verdict)
	require.Equal(t, 1000.0, item.Score)
	require.Equal(t, 0, item.Depth)

	_, verdict = f.OfferSeed("https://example.edu/blog/2024/post-1")
	require.Equal(t, RejectExcluded, verdict)

	_, verdict = f.OfferSeed("https://example.edu/contact#team")
	require.Equal(t, RejectVisited, verdict)
}

func TestFrontierPopOrder(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t, 4)

	_, verdict := f.Offer("https://example.edu/faculty/a", 1)
	require.Equal(t, AdmitOK, verdict)
	_, verdict = f.Offer("https://example.edu/faculty/b", 1)
	require.Equal(t, AdmitOK, verdict)
	_, verdict = f.Offer("https://example.edu/admissions", 1)
	require.Equal(t, AdmitOK, verdict)
	_, verdict = f.OfferSeed("https://example.edu/")
	require.Equal(t, AdmitOK, verdict)

	var order []string
	for {
		item, ok := f.Pop()
		if !ok {
			break
		}
		order = append(order, item.URL)
	}
	require.Equal(t, []string{
		"https://example.edu/",
		"https://example.edu/admissions",
		"https://example.edu/faculty/a",
		"https://example.edu/faculty/b",
	}, order)
}

func TestFrontierRequeueBypassesVisited(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t, 2)
	item, verdict := f.Offer("https://example.edu/programs", 1)
	require.Equal(t, AdmitOK, verdict)

	popped, ok := f.Pop()
	require.True(t, ok)
	require.Equal(t, item, popped)

	f.Requeue(popped)
	again, ok := f.Pop()
	require.True(t, ok)
	require.Equal(t, item, again)

	_, verdict = f.Offer("https://example.edu/programs", 0)
	require.Equal(t, RejectVisited, verdict)
}
