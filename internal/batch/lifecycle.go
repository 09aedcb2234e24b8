// Package batch bulk-clears conversations over REST. Each conversation is
// processed independently server-side; one failure never rolls back another.
// The channel state is irrelevant here.
package batch

import (
	"context"

	"go.uber.org/zap"

	"github.com/sahyam2023/dashboard-sub001/internal/events"
	"github.com/sahyam2023/dashboard-sub001/internal/models"
	"github.com/sahyam2023/dashboard-sub001/internal/rest"
)

// Caches is the slice of the local state that must forget cleared
// conversations.
type Caches interface {
	ApplyCleared(ids []int64)
}

type Manager struct {
	rest *rest.Client
	log  *zap.SugaredLogger
	bus  *events.Bus

	caches []Caches
}

func New(rc *rest.Client, bus *events.Bus, log *zap.SugaredLogger, caches ...Caches) *Manager {
	return &Manager{rest: rc, log: log, bus: bus, caches: caches}
}

// Clear dispatches one batch clear. A non-nil error means the call never
// reached processing; otherwise every requested id has an outcome entry, and
// per-id errors are data, not errors. Only successfully cleared ids are
// flushed from local caches.
func (m *Manager) Clear(ctx context.Context, ids []int64) ([]models.ClearOutcome, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	outcomes, err := m.rest.ClearConversations(ctx, ids)
	if err != nil {
		return nil, err
	}

	var cleared []int64
	for _, o := range outcomes {
		if o.Status == models.ClearStatusCleared {
			cleared = append(cleared, o.ConversationID)
		} else {
			m.log.Warnw("conversation clear failed", "conversation", o.ConversationID, "err", o.Error)
		}
	}
	if len(cleared) > 0 {
		for _, c := range m.caches {
			c.ApplyCleared(cleared)
		}
		if m.bus != nil {
			m.bus.Publish(events.ConversationsCleared{IDs: cleared})
		}
	}
	return outcomes, nil
}
