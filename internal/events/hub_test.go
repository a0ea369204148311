package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHubPublishAndUnsubscribe(t *testing.T) {
	hub := NewHub()
	var got []Event
	unsubscribe := hub.Subscribe(TopicTokensChanged, func(_ context.Context, evt Event) {
		got = append(got, evt)
	})
	require.Equal(t, 1, hub.Count(TopicTokensChanged))

	hub.Publish(context.Background(), TopicTokensChanged, map[string]any{"op": "add"}, map[string]string{"pool": "ssoBasic"})
	require.Len(t, got, 1)
	require.Equal(t, TopicTokensChanged, got[0].Topic)
	require.Equal(t, "ssoBasic", got[0].Metadata["pool"])

	unsubscribe()
	require.Zero(t, hub.Count(TopicTokensChanged))
	hub.Publish(context.Background(), TopicTokensChanged, nil, nil)
	require.Len(t, got, 1)
}

func TestNilHubPublishIsNoop(t *testing.T) {
	var hub *Hub
	require.NotPanics(t, func() {
		hub.Publish(context.Background(), TopicBatchFinished, nil, nil)
	})
}
