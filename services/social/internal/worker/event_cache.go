// Package worker runs background consumers for the social service.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// SubjectEventLifecycle matches lifecycle events published by the
	// scheduling side of the academy.
	SubjectEventLifecycle = "academy.events.*"
	eventCacheDurable     = "social_event_cache"

	fetchBatch   = 20
	fetchTimeout = 5 * time.Second
)

// Invalidator forgets cached event lookups. *events.CachedDirectory
// satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, eventID int64) error
}

// LifecycleEvent is the payload of academy.events.* messages.
type LifecycleEvent struct {
	EventID    int64     `json:"event_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

var errBadPayload = errors.New("invalid lifecycle payload")

// StartEventCacheConsumer pulls academy.events.* and drops the cached
// existence of events that were cancelled, deleted or archived. It returns
// once the subscription is set up; fetching continues until ctx is done.
func StartEventCacheConsumer(ctx context.Context, nc *nats.Conn, inv Invalidator, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	js, err := nc.JetStream()
	if err != nil {
		return err
	}
	sub, err := js.PullSubscribe(SubjectEventLifecycle, eventCacheDurable)
	if err != nil {
		return err
	}

	go func() {
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msgs, err := sub.Fetch(fetchBatch, nats.MaxWait(fetchTimeout))
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
					log.Warn("event cache consumer stopped", zap.Error(err))
					return
				}
				log.Warn("fetch lifecycle events", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			for _, m := range msgs {
				switch err := handleLifecycle(ctx, inv, m.Subject, m.Data); {
				case err == nil:
					_ = m.Ack()
				case errors.Is(err, errBadPayload):
					log.Warn("dropping lifecycle message", zap.String("subject", m.Subject), zap.Error(err))
					_ = m.Term()
				default:
					log.Warn("invalidate event cache", zap.String("subject", m.Subject), zap.Error(err))
					_ = m.Nak()
				}
			}
		}
	}()
	return nil
}

// handleLifecycle applies one message. Actions that keep an event alive
// are acknowledged without touching the cache.
func handleLifecycle(ctx context.Context, inv Invalidator, subject string, data []byte) error {
	action := subject[strings.LastIndex(subject, ".")+1:]
	switch action {
	case "cancelled", "deleted", "archived":
	default:
		return nil
	}

	var ev LifecycleEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return errors.Join(errBadPayload, err)
	}
	if ev.EventID <= 0 {
		return errBadPayload
	}
	return inv.Invalidate(ctx, ev.EventID)
}
