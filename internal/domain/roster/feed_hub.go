package roster

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ChangeChannel is the notification channel the operators trigger writes to.
const ChangeChannel = "operators_changes"

const subscriberBuffer = 32

// Hub listens on the operators channel with one dedicated connection and
// fans events out to every subscribed session.
type Hub struct {
	db  *pgxpool.Pool
	log zerolog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan ChangeEvent
}

func NewHub(db *pgxpool.Pool, log zerolog.Logger) *Hub {
	return &Hub{
		db:   db,
		log:  log.With().Str("component", "change_feed").Logger(),
		subs: make(map[int]chan ChangeEvent),
	}
}

// Run listens until ctx is done, reconnecting after failures.
func (h *Hub) Run(ctx context.Context) {
	backoff := time.Second
	for {
		err := h.listen(ctx)
		if ctx.Err() != nil {
			h.closeAll()
			return
		}
		h.log.Warn().Err(err).Dur("retry_in", backoff).Msg("change feed disconnected")
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (h *Hub) listen(ctx context.Context) error {
	conn, err := h.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return err
	}
	h.log.Info().Str("channel", ChangeChannel).Msg("listening for operator changes")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := ParseEvent(n.Payload)
		if err != nil {
			h.log.Warn().Err(err).Msg("ignoring malformed change event")
			continue
		}
		h.Broadcast(ev)
	}
}

// Subscribe implements ChangeFeed.
func (h *Hub) Subscribe(ctx context.Context) (<-chan ChangeEvent, func()) {
	ch := make(chan ChangeEvent, subscriberBuffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}

// Broadcast delivers ev to every subscriber. A subscriber whose buffer is
// full misses the event and catches up on its next poll.
func (h *Hub) Broadcast(ev ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.log.Debug().Int("subscriber", id).Str("registration", ev.Registration).Msg("subscriber busy, dropping change event")
		}
	}
}

// Subscribers reports how many sessions are attached.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
