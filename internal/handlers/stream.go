package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/gluk-w/pingmatrix/internal/model"
)

const (
	subscriberBuffer = 64
	streamWriteWait  = 5 * time.Second
)

// Hub fans accepted measurements out to live stream subscribers. A
// subscriber whose buffer is full is dropped rather than slowing ingest.
type Hub struct {
	mu   sync.Mutex
	subs map[chan model.Measurement]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan model.Measurement]struct{})}
}

// Subscribe registers a new subscriber. The channel is closed when the
// subscriber is dropped or unsubscribed.
func (h *Hub) Subscribe() (<-chan model.Measurement, func()) {
	ch := make(chan model.Measurement, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() { h.remove(ch) }
}

func (h *Hub) remove(ch chan model.Measurement) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *Hub) Publish(m model.Measurement) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- m:
		default:
			delete(h.subs, ch)
			close(ch)
			log.Warn().Msg("dropping slow stream subscriber")
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// StreamPings upgrades to a websocket and pushes every accepted measurement
// as a JSON text message.
func StreamPings(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Debug().Err(err).Msg("stream: websocket accept failed")
		return
	}
	defer conn.CloseNow()

	ch, unsubscribe := Stream.Subscribe()
	defer unsubscribe()

	// The client never sends data; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, streamWriteWait)
			err := wsjson.Write(wctx, conn, m)
			cancel()
			if err != nil {
				log.Debug().Err(err).Msg("stream: write failed")
				return
			}
		}
	}
}
