package wsfeed

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientSubscribesToAllWhenTopicZeroSet(t *testing.T) {
	c := &client{topics: map[int64]bool{0: true}}
	require.True(t, c.subscribes(0))
	require.True(t, c.subscribes(7))
}

func TestClientSubscribesToSpecificTenantOnly(t *testing.T) {
	c := &client{topics: map[int64]bool{5: true}}
	require.True(t, c.subscribes(5))
	require.False(t, c.subscribes(6))
}

func TestNewHubStartsEmpty(t *testing.T) {
	h := New()
	require.Equal(t, 0, h.ClientCount())
}
