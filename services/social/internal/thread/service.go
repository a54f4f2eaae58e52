// Package thread implements comment threads on academy events: one level of
// replies, likes and the viewer-aware listing.
package thread

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/example/dojo-academy/internal/platform/activity"
	"github.com/example/dojo-academy/internal/platform/apperr"
	"github.com/example/dojo-academy/services/social/internal/events"
	"github.com/example/dojo-academy/services/social/internal/store"
)

// DefaultMaxBodyLength is the comment length limit in runes.
const DefaultMaxBodyLength = 1000

const maxSanitizePasses = 8

var (
	ErrEventNotFound    = apperr.NotFound("EVENT_NOT_FOUND", "event not found")
	ErrParentNotFound   = apperr.NotFound("PARENT_NOT_FOUND", "parent comment not found")
	ErrCrossEventParent = apperr.InvalidReference("PARENT_EVENT_MISMATCH", "parent comment belongs to a different event")
)

// Publisher receives activity notifications. *activity.Publisher satisfies it.
type Publisher interface {
	Publish(subject string, userID int64, props map[string]any)
}

// Service orchestrates the comment store and the event directory. It holds
// no mutable state and is safe for concurrent use.
type Service struct {
	store     store.CommentStore
	events    events.Directory
	publisher Publisher
	sanitizer *bluemonday.Policy
	maxBody   int
	log       *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithSanitizer(p *bluemonday.Policy) Option {
	return func(s *Service) { s.sanitizer = p }
}

func WithMaxBodyLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

func New(cs store.CommentStore, dir events.Directory, opts ...Option) *Service {
	s := &Service{
		store:     cs,
		events:    dir,
		publisher: (*activity.Publisher)(nil),
		sanitizer: bluemonday.StrictPolicy(),
		maxBody:   DefaultMaxBodyLength,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddCommentInput carries the fields of a new comment or reply.
type AddCommentInput struct {
	EventID  int64
	UserID   int64
	Body     string
	ParentID *int64
}

// AddComment validates input, checks the event and parent, and persists the
// comment. A reply to a reply is attached to the reply's root instead. A zero
// ParentID is treated as absent.
func (s *Service) AddComment(ctx context.Context, in AddCommentInput) (store.Comment, error) {
	body, err := s.cleanBody(in.Body)
	if err != nil {
		return store.Comment{}, err
	}
	if in.EventID <= 0 {
		return store.Comment{}, apperr.Validation("INVALID_EVENT_ID", "event_id", "event_id must be a positive integer")
	}
	if in.UserID <= 0 {
		return store.Comment{}, apperr.Validation("INVALID_USER_ID", "user_id", "user_id must be a positive integer")
	}
	parentRef := in.ParentID
	if parentRef != nil && *parentRef == 0 {
		parentRef = nil
	}
	if parentRef != nil && *parentRef < 0 {
		return store.Comment{}, apperr.Validation("INVALID_PARENT_ID", "parent_id", "parent_id must be a positive integer")
	}

	ok, err := s.events.Exists(ctx, in.EventID)
	if err != nil {
		return store.Comment{}, fmt.Errorf("lookup event %d: %w", in.EventID, err)
	}
	if !ok {
		return store.Comment{}, ErrEventNotFound
	}

	parentID, err := s.resolveParent(ctx, in.EventID, parentRef)
	if err != nil {
		return store.Comment{}, err
	}

	created, err := s.store.Create(ctx, store.Comment{
		EventID:  in.EventID,
		UserID:   in.UserID,
		ParentID: parentID,
		Body:     body,
		Active:   true,
	})
	if err != nil {
		return store.Comment{}, err
	}

	props := map[string]any{"comment_id": created.ID, "event_id": created.EventID}
	if created.ParentID != nil {
		props["parent_id"] = *created.ParentID
	}
	s.publisher.Publish(activity.SubjectCommentCreated, created.UserID, props)
	s.log.Debug("comment created",
		zap.Int64("comment_id", created.ID),
		zap.Int64("event_id", created.EventID),
		zap.Bool("reply", created.ParentID != nil))
	return created, nil
}

// resolveParent returns the id to store as parent. The parent's own parent,
// when set, is always a root, so one lookup is enough.
func (s *Service) resolveParent(ctx context.Context, eventID int64, parentID *int64) (*int64, error) {
	if parentID == nil {
		return nil, nil
	}
	parent, err := s.store.FindByID(ctx, *parentID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.Wrap(ErrParentNotFound, err)
		}
		return nil, err
	}
	if parent.EventID != eventID {
		return nil, ErrCrossEventParent
	}
	if parent.ParentID != nil {
		root := *parent.ParentID
		return &root, nil
	}
	id := parent.ID
	return &id, nil
}

// cleanBody reduces raw input to plain text. The sanitizer escapes entities,
// so they are decoded after each pass; decoding can surface markup that was
// entity-encoded, so passes repeat until the text is stable.
func (s *Service) cleanBody(raw string) (string, error) {
	body := raw
	stable := false
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.sanitizer.Sanitize(body))
		if next == body {
			stable = true
			break
		}
		body = next
	}
	if !stable {
		return "", apperr.Validation("INVALID_COMMENT", "comment", "comment contains nested markup")
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "", apperr.Validation("EMPTY_COMMENT", "comment", "comment must not be empty")
	}
	if utf8.RuneCountInString(body) > s.maxBody {
		return "", apperr.Validation("COMMENT_TOO_LONG", "comment",
			fmt.Sprintf("comment must be at most %d characters", s.maxBody))
	}
	return body, nil
}

// ToggleResult is the outcome of a like toggle.
type ToggleResult struct {
	Liked      bool `json:"liked"`
	TotalLikes int  `json:"total_likes"`
}

// ToggleLike flips the user's like on a comment and reports the like count
// read right after. The count is not taken in the toggle's transaction and
// may include concurrent toggles by other users.
func (s *Service) ToggleLike(ctx context.Context, commentID, userID int64) (ToggleResult, error) {
	liked, err := s.store.ToggleLike(ctx, commentID, userID)
	if err != nil {
		return ToggleResult{}, err
	}
	c, err := s.store.FindByID(ctx, commentID)
	if err != nil {
		return ToggleResult{}, fmt.Errorf("reload comment %d: %w", commentID, err)
	}

	subject := activity.SubjectCommentUnliked
	if liked {
		subject = activity.SubjectCommentLiked
	}
	s.publisher.Publish(subject, userID, map[string]any{"comment_id": commentID, "event_id": c.EventID})
	return ToggleResult{Liked: liked, TotalLikes: c.TotalLikes}, nil
}

// LikeStatus reports whether userID currently likes the comment.
func (s *Service) LikeStatus(ctx context.Context, commentID, userID int64) (bool, error) {
	if _, err := s.store.FindByID(ctx, commentID); err != nil {
		return false, err
	}
	return s.store.LikeExists(ctx, commentID, userID)
}

// SetActive hides or restores a comment. Hidden comments drop out of listings
// and reply counts.
func (s *Service) SetActive(ctx context.Context, commentID int64, active bool, moderatorID int64) error {
	if err := s.store.SetActive(ctx, commentID, active); err != nil {
		return err
	}
	s.publisher.Publish(activity.SubjectCommentModerated, moderatorID,
		map[string]any{"comment_id": commentID, "is_active": active})
	s.log.Info("comment moderated",
		zap.Int64("comment_id", commentID),
		zap.Int64("moderator_id", moderatorID),
		zap.Bool("is_active", active))
	return nil
}

// CommentView is a comment as shown to one viewer.
type CommentView struct {
	ID           int64
	EventID      int64
	ParentID     *int64
	Body         string
	CreatedAt    time.Time
	Author       store.Author
	TotalLikes   int
	IsLiked      bool
	RepliesCount int
	Replies      []CommentView
}

// ListComments returns the event's thread, roots newest first with replies
// oldest first. IsLiked is set only when viewerID is given.
func (s *Service) ListComments(ctx context.Context, eventID int64, viewerID *int64) ([]CommentView, error) {
	roots, err := s.store.ListForEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	liked := map[int64]bool{}
	if viewerID != nil && len(roots) > 0 {
		var ids []int64
		for _, r := range roots {
			ids = append(ids, r.ID)
			for _, reply := range r.Replies {
				ids = append(ids, reply.ID)
			}
		}
		liked, err = s.store.LikedByUser(ctx, *viewerID, ids)
		if err != nil {
			return nil, fmt.Errorf("load viewer likes: %w", err)
		}
	}

	out := make([]CommentView, len(roots))
	for i, r := range roots {
		v := newView(r, liked)
		v.Replies = make([]CommentView, len(r.Replies))
		for j, reply := range r.Replies {
			v.Replies[j] = newView(reply, liked)
		}
		v.RepliesCount = len(r.Replies)
		out[i] = v
	}
	return out, nil
}

func newView(c store.Comment, liked map[int64]bool) CommentView {
	return CommentView{
		ID:           c.ID,
		EventID:      c.EventID,
		ParentID:     c.ParentID,
		Body:         c.Body,
		CreatedAt:    c.CreatedAt,
		Author:       c.Author,
		TotalLikes:   c.TotalLikes,
		IsLiked:      liked[c.ID],
		RepliesCount: c.RepliesCount,
		Replies:      []CommentView{},
	}
}
