// Package stream implements the Streaming Fan-out: per-channel-key
// client subscriptions with an overflow policy that differs by channel
// kind. Grounded on an internal/events.Bus (non-blocking,
// drop-on-full Publish) generalized from one shared channel-per-Event to
// many independently keyed channels, and internal/api/websocket.go's
// gorilla/websocket upgrade-then-drain-channel loop.
package stream

import (
	"fmt"
	"sync"
)

// Kind identifies one of the four channel families spec.md names.
// Price channels use last-value-wins overflow; trade and notification
// channels never silently drop a message and instead disconnect a
// subscriber that falls behind; the system channel behaves like
// trades/notifications (low volume, must-deliver).
type Kind string

const (
	KindPrice        Kind = "prices"
	KindTrade        Kind = "trades"
	KindNotification Kind = "notifications"
	KindSystem       Kind = "system"
)

// lastValueWins reports whether a channel kind drops its oldest queued
// message in favor of the newest when a subscriber's buffer fills,
// rather than disconnecting the subscriber.
func (k Kind) lastValueWins() bool {
	return k == KindPrice
}

// Key identifies one subscribable channel: prices:<symbol>,
// trades:<user>, notifications:<user>, or system (no suffix).
func Key(kind Kind, suffix string) string {
	if suffix == "" {
		return string(kind)
	}
	return fmt.Sprintf("%s:%s", kind, suffix)
}

const defaultBuffer = 64

type subscriber struct {
	ch       chan any
	kind     Kind
	dropHead bool
}

// Hub fans messages out to per-key subscribers. Unlike events.Bus (keyed
// by a fixed Event enum with one fan-out list), Hub is keyed by an
// arbitrary runtime string (a symbol or user ID appended to a channel
// kind) since subscriptions are created per connected client, not
// declared in code.
type Hub struct {
	mu     sync.RWMutex
	byKey  map[string]map[*subscriber]struct{}
	buffer int

	onDisconnect func(key string)
}

// New constructs a Hub. onDisconnect, if non-nil, is invoked (in a new
// goroutine) whenever a must-deliver subscriber is dropped for falling
// behind, so callers (e.g. the WebSocket handler) can close the
// underlying connection and prompt the client to resynchronize via a
// REST snapshot on reconnect.
func New(onDisconnect func(key string)) *Hub {
	return &Hub{
		byKey:        make(map[string]map[*subscriber]struct{}),
		buffer:       defaultBuffer,
		onDisconnect: onDisconnect,
	}
}

// Subscribe attaches a new listener to key and returns its receive
// channel and an unsubscribe function.
func (h *Hub) Subscribe(kind Kind, key string) (<-chan any, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscriber{
		ch:       make(chan any, h.buffer),
		kind:     kind,
		dropHead: kind.lastValueWins(),
	}

	set, ok := h.byKey[key]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.byKey[key] = set
	}
	set[sub] = struct{}{}

	unsub := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.removeLocked(key, sub)
	}

	return sub.ch, unsub
}

func (h *Hub) removeLocked(key string, sub *subscriber) {
	set, ok := h.byKey[key]
	if !ok {
		return
	}
	if _, ok := set[sub]; ok {
		delete(set, sub)
		close(sub.ch)
	}
	if len(set) == 0 {
		delete(h.byKey, key)
	}
}

// Publish fans payload out to every subscriber of key. Price-kind
// subscribers get last-value-wins semantics: if their buffer is full,
// the oldest queued message is discarded to make room. Must-deliver
// subscribers (trade/notification/system) that are full are instead
// disconnected; onDisconnect is notified so the caller can prompt a
// REST resync.
func (h *Hub) Publish(key string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.byKey[key]
	if !ok {
		return
	}

	for sub := range set {
		select {
		case sub.ch <- payload:
			continue
		default:
		}

		if sub.dropHead {
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- payload:
			default:
			}
			continue
		}

		h.removeLocked(key, sub)
		if h.onDisconnect != nil {
			go h.onDisconnect(key)
		}
	}
}

// PublishPrice publishes a price tick on prices:<symbol>.
func (h *Hub) PublishPrice(symbol string, payload any) {
	h.Publish(Key(KindPrice, symbol), payload)
}

// PublishTrade publishes a trade/order event on trades:<userID>.
func (h *Hub) PublishTrade(userID string, payload any) {
	h.Publish(Key(KindTrade, userID), payload)
}

// PublishNotification publishes an alert/opportunity on
// notifications:<userID>.
func (h *Hub) PublishNotification(userID string, payload any) {
	h.Publish(Key(KindNotification, userID), payload)
}

// PublishSystem publishes a platform-wide announcement on system.
func (h *Hub) PublishSystem(payload any) {
	h.Publish(Key(KindSystem, ""), payload)
}

// SubscriberCount reports how many listeners are currently attached to
// key, for diagnostics/health endpoints.
func (h *Hub) SubscriberCount(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byKey[key])
}
