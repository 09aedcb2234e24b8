package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMakePairCanonicalizes(t *testing.T) {
	cases := []struct {
		a, b      int64
		low, high int64
	}{
		{1, 2, 1, 2},
		{2, 1, 1, 2},
		{7, 7, 7, 7},
		{42, 3, 3, 42},
	}
	for _, tc := range cases {
		p := MakePair(tc.a, tc.b)
		assert.Equal(t, tc.low, p.Low)
		assert.Equal(t, tc.high, p.High)
		assert.Equal(t, MakePair(tc.b, tc.a), p)
	}
}

func TestPairOther(t *testing.T) {
	p := MakePair(5, 9)
	assert.Equal(t, int64(9), p.Other(5))
	assert.Equal(t, int64(5), p.Other(9))
}

func TestMessageBefore(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Message{ID: 1, CreatedAt: t0}
	b := Message{ID: 2, CreatedAt: t0}
	c := Message{ID: 3, CreatedAt: t0.Add(time.Second)}

	assert.True(t, a.Before(b), "same timestamp orders by id")
	assert.False(t, b.Before(a))
	assert.True(t, b.Before(c))
	assert.False(t, c.Before(a))
}

func TestConversationActivityTime(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	conv := Conversation{CreatedAt: created}
	assert.Equal(t, created, conv.ActivityTime(), "empty conversation falls back to created_at")

	sent := created.Add(time.Hour)
	conv.LastMessage = &Message{CreatedAt: sent}
	assert.Equal(t, sent, conv.ActivityTime())
}
