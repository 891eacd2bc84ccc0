// Package notify fans approval events out to subscribers. Each server
// instance holds only its own subscriber set; the redis stream carries
// events across instances, so no process-wide shared map exists.
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stake-plus/polkadot-grant-pay/src/api/data"
)

type Event struct {
	Kind       string
	Subscriber string
	Fields     map[string]interface{}
}

// Hub owns the local subscriber channels, keyed by subscriber address.
type Hub struct {
	rdb *redis.Client

	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		rdb:  rdb,
		subs: make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe registers a channel for one subscriber key. The returned func
// must be called when the connection ends; it removes and closes the
// channel.
func (h *Hub) Subscribe(key string) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[chan Event]struct{})
	}
	h.subs[key][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if set, ok := h.subs[key]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, key)
			}
		}
		h.mu.Unlock()
		close(ch)
	}
}

// Publish pushes the event to the shared stream. Best-effort: failures are
// logged and never propagate to the triggering operation.
func (h *Hub) Publish(ctx context.Context, kind, subscriber string, fields map[string]interface{}) {
	payload := map[string]interface{}{
		"kind":       kind,
		"subscriber": subscriber,
		"time":       time.Now().Unix(),
	}
	for k, v := range fields {
		payload[k] = v
	}
	if err := data.PublishEvent(ctx, h.rdb, payload); err != nil {
		log.Printf("notify: publish %s: %v", kind, err)
	}
}

// Run consumes the shared stream and dispatches to local subscribers until
// the context ends. Slow subscribers drop events rather than block.
func (h *Hub) Run(ctx context.Context) {
	lastID := "$"
	for {
		if ctx.Err() != nil {
			return
		}
		streams, err := data.ReadEvents(ctx, h.rdb, lastID, 5*time.Second)
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				log.Printf("notify: read stream: %v", err)
				time.Sleep(time.Second)
			}
			continue
		}
		for _, st := range streams {
			for _, msg := range st.Messages {
				lastID = msg.ID
				h.dispatch(msg)
			}
		}
	}
}

func (h *Hub) dispatch(msg redis.XMessage) {
	kind, _ := msg.Values["kind"].(string)
	subscriber, _ := msg.Values["subscriber"].(string)
	if subscriber == "" {
		return
	}
	ev := Event{Kind: kind, Subscriber: subscriber, Fields: msg.Values}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[subscriber] {
		select {
		case ch <- ev:
		default:
		}
	}
}
