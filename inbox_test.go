package agentrt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxPreservesArrivalOrder(t *testing.T) {
	inbox := NewInbox()
	stop := make(chan struct{})
	defer close(stop)

	inbox.Post(NewMessageItem("telegram", "first", RoutingContext{}), nil)
	inbox.Post(NewMessageItem("telegram", "second", RoutingContext{}), nil)

	item, ok := inbox.Next(stop)
	require.True(t, ok)
	assert.Equal(t, "first", item.Text)

	item, ok = inbox.Next(stop)
	require.True(t, ok)
	assert.Equal(t, "second", item.Text)
}

func TestInboxNextBlocksUntilPost(t *testing.T) {
	inbox := NewInbox()
	stop := make(chan struct{})
	defer close(stop)

	result := make(chan InboxItem, 1)
	go func() {
		item, ok := inbox.Next(stop)
		if ok {
			result <- item
		}
	}()

	time.Sleep(10 * time.Millisecond)
	inbox.Post(NewResetItem("system"), nil)

	select {
	case item := <-result:
		assert.Equal(t, ItemReset, item.Kind)
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after Post")
	}
}

func TestInboxNextReturnsFalseWhenStopped(t *testing.T) {
	inbox := NewInbox()
	stop := make(chan struct{})
	close(stop)

	_, ok := inbox.Next(stop)
	assert.False(t, ok)
}

func TestInboxCloseCancelsPendingCompletions(t *testing.T) {
	inbox := NewInbox()
	completion := NewCompletion()
	inbox.Post(NewMessageItem("telegram", "hi", RoutingContext{}), completion)

	inbox.Close(ErrTimeout)

	_, err := completion.Await(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestInboxLen(t *testing.T) {
	inbox := NewInbox()
	assert.Equal(t, 0, inbox.Len())
	inbox.Post(NewResetItem("system"), nil)
	assert.Equal(t, 1, inbox.Len())
}
