package devserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedPair(t *testing.T, s *Store) (alice, bob int64) {
	t.Helper()
	a, err := s.CreateUser("alice", "")
	require.NoError(t, err)
	b, err := s.CreateUser("bob", "")
	require.NoError(t, err)
	return a.ID, b.ID
}

func TestResolveConversationIdempotent(t *testing.T) {
	s := newTestStore(t)
	alice, bob := seedPair(t, s)

	c1, err := s.ResolveConversation(alice, bob)
	require.NoError(t, err)
	// Same pair from the other side must be the same conversation.
	c2, err := s.ResolveConversation(bob, alice)
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)

	// Repeats never mint a second one.
	for i := 0; i < 5; i++ {
		c3, err := s.ResolveConversation(alice, bob)
		require.NoError(t, err)
		assert.Equal(t, c1.ID, c3.ID)
	}

	convs, err := s.ListConversations(alice)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestMessagePagingOrderAndOffsets(t *testing.T) {
	s := newTestStore(t)
	alice, bob := seedPair(t, s)
	conv, err := s.ResolveConversation(alice, bob)
	require.NoError(t, err)

	const total = 23
	for i := 0; i < total; i++ {
		_, err := s.InsertMessage(conv.ID, alice, bob, "msg", nil)
		require.NoError(t, err)
	}

	var seen []int64
	for offset := 0; ; {
		page, err := s.ListMessages(conv.ID, 10, offset)
		require.NoError(t, err)
		for _, m := range page {
			seen = append(seen, m.ID)
		}
		offset += len(page)
		if len(page) < 10 {
			break
		}
	}

	require.Len(t, seen, total, "no gaps")
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1], seen[i], "ascending, no duplicates")
	}
}

func TestMarkReadOnlyFlipsRecipient(t *testing.T) {
	s := newTestStore(t)
	alice, bob := seedPair(t, s)
	conv, err := s.ResolveConversation(alice, bob)
	require.NoError(t, err)

	toBob, err := s.InsertMessage(conv.ID, alice, bob, "hi bob", nil)
	require.NoError(t, err)
	toAlice, err := s.InsertMessage(conv.ID, bob, alice, "hi alice", nil)
	require.NoError(t, err)

	// bob can read his inbound message, not the one he sent
	flipped, err := s.MarkRead(bob, []int64{toBob.ID, toAlice.ID})
	require.NoError(t, err)
	require.Len(t, flipped, 1)
	assert.Equal(t, []int64{toBob.ID}, flipped[conv.ID])

	// a second mark-read is a no-op
	flipped, err = s.MarkRead(bob, []int64{toBob.ID})
	require.NoError(t, err)
	assert.Empty(t, flipped)

	c, err := s.ConversationWithUser(bob, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, c.UnreadCount)

	c, err = s.ConversationWithUser(alice, bob)
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnreadCount, "alice still has bob's message unread")
}

func TestClearKeepsConversationShell(t *testing.T) {
	s := newTestStore(t)
	alice, bob := seedPair(t, s)
	conv, err := s.ResolveConversation(alice, bob)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.InsertMessage(conv.ID, alice, bob, "x", nil)
		require.NoError(t, err)
	}
	n, err := s.DeleteMessages(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	convs, err := s.ListConversations(alice)
	require.NoError(t, err)
	require.Len(t, convs, 1, "shell record survives a clear")
	assert.Nil(t, convs[0].LastMessage)
}
