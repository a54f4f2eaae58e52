// Package activity provides a fire-and-forget NATS JetStream publisher for
// user activity on academy content (comments, likes, moderation).
package activity

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subject constants for every activity event type.
const (
	SubjectCommentCreated   = "social.comments.created"
	SubjectCommentLiked     = "social.comments.liked"
	SubjectCommentUnliked   = "social.comments.unliked"
	SubjectCommentModerated = "social.comments.moderated"

	StreamName     = "SOCIAL"
	streamSubjects = "social.>"
)

// Event is the canonical envelope sent to all social.* subjects.
type Event struct {
	EventID    string         `json:"event_id"`
	EventName  string         `json:"event_name"`
	UserID     int64          `json:"user_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Publisher publishes activity events to NATS JetStream.
// The zero value and a nil pointer are both safe no-op stubs.
type Publisher struct {
	js  nats.JetStreamContext
	log *zap.Logger
}

// New creates a Publisher using an existing JetStream context.
// Pass js=nil to get a no-op stub (useful in tests and without NATS).
func New(js nats.JetStreamContext, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{js: js, log: log}
}

// Connect derives a JetStream context from nc and makes sure the SOCIAL
// stream exists. A stream creation failure is logged, not returned.
func Connect(nc *nats.Conn, log *zap.Logger) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	if _, err := js.StreamInfo(StreamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     StreamName,
			Subjects: []string{streamSubjects},
			Storage:  nats.FileStorage,
			MaxAge:   7 * 24 * time.Hour,
		})
		if err != nil {
			log.Warn("failed to create NATS stream (may already exist)", zap.String("stream", StreamName), zap.Error(err))
		}
	}
	return New(js, log), nil
}

// Publish sends an activity event asynchronously (fire-and-forget).
// Failures are logged as warnings and never surface to the caller.
// The publisher is safe to call with a nil receiver.
func (p *Publisher) Publish(subject string, userID int64, props map[string]any) {
	if p == nil || p.js == nil {
		return
	}
	ev := Event{
		EventID:    uuid.NewString(),
		EventName:  eventName(subject),
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Properties: props,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("activity: marshal failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	if _, err := p.js.PublishAsync(subject, data, nats.MsgId(ev.EventID)); err != nil {
		p.log.Warn("activity: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// eventName turns "social.comments.liked" into "comment_liked".
func eventName(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) < 2 {
		return subject
	}
	noun := strings.TrimSuffix(parts[len(parts)-2], "s")
	return noun + "_" + parts[len(parts)-1]
}
