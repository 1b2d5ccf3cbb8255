package session

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Reason names the trigger behind a session reconciliation.
type Reason string

const (
	ReasonSubmissionStart    Reason = "submission_start"
	ReasonSubmissionComplete Reason = "submission_complete"
	ReasonUserRefresh        Reason = "user_refresh"
)

// Hub is the single "session changed" channel. The pipeline reads Current at submission time;
// anything else interested in session changes subscribes. Nothing here runs on a timer.
type Hub struct {
	store  Store
	logger *zap.Logger

	mu      sync.Mutex
	current Session
	loaded  bool
	nextID  int
	subs    map[int]chan Session
}

// NewHub wires a hub to its backing store.
func NewHub(store Store, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		store:  store,
		logger: logger,
		subs:   make(map[int]chan Session),
	}
}

// Current returns the last published session.
func (h *Hub) Current() Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return clone(h.current)
}

// Refresh is the one reconciliation entry point: it reloads the session from the store and
// publishes it.
func (h *Hub) Refresh(ctx context.Context, reason Reason) (Session, error) {
	s, err := h.store.Load(ctx)
	if err != nil {
		return Session{}, eris.Wrapf(err, "session: refresh (%s)", reason)
	}
	h.logger.Debug("session refreshed",
		zap.String("reason", string(reason)),
		zap.String("role", string(s.Role)),
		zap.String("tier", s.Tier),
	)
	h.Publish(s)
	return clone(s), nil
}

// Update loads the session, applies fn, saves and publishes the result.
func (h *Hub) Update(ctx context.Context, fn func(*Session)) (Session, error) {
	s, err := h.store.Load(ctx)
	if err != nil {
		return Session{}, eris.Wrap(err, "session: load for update")
	}
	fn(&s)
	if err := h.store.Save(ctx, s); err != nil {
		return Session{}, eris.Wrap(err, "session: save")
	}
	h.Publish(s)
	return clone(s), nil
}

// Publish records s as current and notifies subscribers. Slow subscribers only ever see the
// latest value.
func (h *Hub) Publish(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = clone(s)
	h.loaded = true
	for _, ch := range h.subs {
		select {
		case <-ch:
		default:
		}
		ch <- clone(s)
	}
}

// Subscribe returns a channel of session changes and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Session, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Session, 1)
	if h.loaded {
		ch <- clone(h.current)
	}
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}
