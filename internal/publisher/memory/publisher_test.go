package memory

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
	"github.com/JakeFAU/campus-crawler/internal/delivery"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	a := &url.URL{Scheme: "memory", Host: "a"}
	b := &url.URL{Scheme: "memory", Host: "b"}

	require.NoError(t, pub.Send(ctx, a, delivery.Payload{
		Domain:  "example.edu",
		Records: []crawler.PageRecord{{URL: "https://example.edu/"}},
	}))
	require.NoError(t, pub.Send(ctx, b, delivery.Payload{
		Domain:  "example.edu",
		Failure: &crawler.ErrorEnvelope{Error: true, Domain: "example.edu"},
	}))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "memory://a", msgs[0].Target)
	require.Equal(t, delivery.KindRecords, msgs[0].Payload.Kind())
	require.Equal(t, "memory://b", msgs[1].Target)
	require.Equal(t, delivery.KindError, msgs[1].Payload.Kind())

	msgs[0].Target = "modified"
	require.Equal(t, "memory://a", pub.Messages()[0].Target)
}

func TestPublisherThroughRouter(t *testing.T) {
	t.Parallel()

	pub := New()
	router := delivery.NewRouter(nil)
	router.Register(pub, "memory")

	records := []crawler.PageRecord{{Domain: "example.edu", URL: "https://example.edu/programs"}}
	require.NoError(t, router.Deliver(context.Background(), "memory://capture", "example.edu", records))
	require.NoError(t, router.Deliver(context.Background(), "memory://capture", "example.edu", nil))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, records, msgs[0].Payload.Records)
}
