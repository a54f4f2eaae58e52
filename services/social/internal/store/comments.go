package store

import (
	"context"
	"time"

	"github.com/example/dojo-academy/internal/platform/apperr"
)

// Author is the public summary of a comment's writer.
type Author struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Comment represents a single comment row plus its read-time aggregates.
// TotalLikes, RepliesCount and Replies are never stored.
type Comment struct {
	ID        int64     `json:"id"`
	EventID   int64     `json:"event_id"`
	UserID    int64     `json:"user_id"`
	ParentID  *int64    `json:"parent_id"`
	Body      string    `json:"comment"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`

	Author       Author    `json:"user"`
	TotalLikes   int       `json:"total_likes"`
	RepliesCount int       `json:"replies_count"`
	Replies      []Comment `json:"replies,omitempty"`
}

// IsRoot reports whether c sits at depth 0.
func (c Comment) IsRoot() bool { return c.ParentID == nil }

// CommentStore defines the contract for comment and like persistence.
// Implementations enforce referential existence only; nesting rules live in
// the thread service.
type CommentStore interface {
	Create(ctx context.Context, c Comment) (Comment, error)
	FindByID(ctx context.Context, id int64) (Comment, error)
	// ListForEvent returns the active root comments of an event, newest
	// first, each with its active replies (oldest first) already loaded.
	ListForEvent(ctx context.Context, eventID int64) ([]Comment, error)
	// ToggleLike flips the (comment, user) like and reports the new state.
	ToggleLike(ctx context.Context, commentID, userID int64) (liked bool, err error)
	LikeExists(ctx context.Context, commentID, userID int64) (bool, error)
	// LikedByUser returns the subset of commentIDs liked by userID.
	LikedByUser(ctx context.Context, userID int64, commentIDs []int64) (map[int64]bool, error)
	SetActive(ctx context.Context, commentID int64, active bool) error
	Ping(ctx context.Context) error
}

// Sentinel errors
var (
	ErrCommentNotFound = apperr.NotFound("COMMENT_NOT_FOUND", "comment not found")
	ErrParentNotFound  = apperr.NotFound("PARENT_NOT_FOUND", "parent comment not found")
	ErrEventNotFound   = apperr.NotFound("EVENT_NOT_FOUND", "event not found")
	ErrLikeConflict    = apperr.Conflict("LIKE_CONFLICT", "like changed concurrently, retry")
	ErrConstraint      = apperr.Conflict("CONSTRAINT_VIOLATION", "request conflicts with stored data")
)
