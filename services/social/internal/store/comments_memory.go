package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type likeKey struct {
	commentID int64
	userID    int64
}

// InMemoryCommentStore is a development and test implementation.
type InMemoryCommentStore struct {
	mu       sync.RWMutex
	nextID   int64
	comments map[int64]Comment
	likes    map[likeKey]time.Time
	users    map[int64]string
	// nil means every event exists
	events map[int64]struct{}
	now    func() time.Time
}

func NewInMemoryCommentStore() *InMemoryCommentStore {
	return &InMemoryCommentStore{
		comments: make(map[int64]Comment),
		likes:    make(map[likeKey]time.Time),
		users:    make(map[int64]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RegisterUser records the display name used for author summaries.
func (s *InMemoryCommentStore) RegisterUser(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = name
}

// RestrictEvents makes Create reject comments on events not listed, the
// way the events foreign key does in Postgres.
func (s *InMemoryCommentStore) RestrictEvents(ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		s.events[id] = struct{}{}
	}
}

func (s *InMemoryCommentStore) Create(_ context.Context, c Comment) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.events != nil {
		if _, ok := s.events[c.EventID]; !ok {
			return Comment{}, ErrEventNotFound
		}
	}
	if c.ParentID != nil {
		if _, ok := s.comments[*c.ParentID]; !ok {
			return Comment{}, ErrParentNotFound
		}
	}

	s.nextID++
	row := Comment{
		ID:        s.nextID,
		EventID:   c.EventID,
		UserID:    c.UserID,
		ParentID:  copyID(c.ParentID),
		Body:      c.Body,
		Active:    c.Active,
		CreatedAt: s.now(),
	}
	s.comments[row.ID] = row
	return s.materialize(row), nil
}

func (s *InMemoryCommentStore) FindByID(_ context.Context, id int64) (Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return Comment{}, ErrCommentNotFound
	}
	out := s.materialize(c)
	out.RepliesCount = len(s.activeReplies(id))
	return out, nil
}

func (s *InMemoryCommentStore) ListForEvent(_ context.Context, eventID int64) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var roots []Comment
	for _, c := range s.comments {
		if c.EventID == eventID && c.IsRoot() && c.Active {
			roots = append(roots, c)
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		if !roots[i].CreatedAt.Equal(roots[j].CreatedAt) {
			return roots[i].CreatedAt.After(roots[j].CreatedAt)
		}
		return roots[i].ID > roots[j].ID
	})

	out := make([]Comment, len(roots))
	for i, root := range roots {
		node := s.materialize(root)
		replies := s.activeReplies(root.ID)
		node.Replies = make([]Comment, len(replies))
		for j, r := range replies {
			node.Replies[j] = s.materialize(r)
		}
		node.RepliesCount = len(replies)
		out[i] = node
	}
	return out, nil
}

func (s *InMemoryCommentStore) ToggleLike(_ context.Context, commentID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.comments[commentID]; !ok {
		return false, ErrCommentNotFound
	}
	k := likeKey{commentID: commentID, userID: userID}
	if _, ok := s.likes[k]; ok {
		delete(s.likes, k)
		return false, nil
	}
	s.likes[k] = s.now()
	return true, nil
}

func (s *InMemoryCommentStore) LikeExists(_ context.Context, commentID, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.likes[likeKey{commentID: commentID, userID: userID}]
	return ok, nil
}

func (s *InMemoryCommentStore) LikedByUser(_ context.Context, userID int64, commentIDs []int64) (map[int64]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]bool)
	for _, id := range commentIDs {
		if _, ok := s.likes[likeKey{commentID: id, userID: userID}]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (s *InMemoryCommentStore) SetActive(_ context.Context, commentID int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[commentID]
	if !ok {
		return ErrCommentNotFound
	}
	c.Active = active
	s.comments[commentID] = c
	return nil
}

func (s *InMemoryCommentStore) Ping(context.Context) error { return nil }

// materialize fills author and like count. Caller holds the lock.
func (s *InMemoryCommentStore) materialize(c Comment) Comment {
	c.Author = Author{ID: c.UserID, Name: s.users[c.UserID]}
	c.TotalLikes = 0
	for k := range s.likes {
		if k.commentID == c.ID {
			c.TotalLikes++
		}
	}
	c.ParentID = copyID(c.ParentID)
	return c
}

// activeReplies returns the active replies of parentID, oldest first.
// Caller holds the lock.
func (s *InMemoryCommentStore) activeReplies(parentID int64) []Comment {
	var replies []Comment
	for _, c := range s.comments {
		if c.ParentID != nil && *c.ParentID == parentID && c.Active {
			replies = append(replies, c)
		}
	}
	sort.Slice(replies, func(a, b int) bool {
		if !replies[a].CreatedAt.Equal(replies[b].CreatedAt) {
			return replies[a].CreatedAt.Before(replies[b].CreatedAt)
		}
		return replies[a].ID < replies[b].ID
	})
	return replies
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
