package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/dojo-academy/internal/platform/api"
	"github.com/example/dojo-academy/internal/platform/apperr"
	"github.com/example/dojo-academy/internal/platform/auth"
	"github.com/example/dojo-academy/internal/platform/httpserver"
	"github.com/example/dojo-academy/services/social/internal/store"
	"github.com/example/dojo-academy/services/social/internal/thread"
)

const maxBodyBytes = 1 << 20

// clock is swapped in tests.
var clock = time.Now

type createCommentRequest struct {
	EventID  *int64 `json:"event_id,omitempty"`
	Comment  string `json:"comment"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

type toggleLikeRequest struct {
	CommentID *int64 `json:"comment_id"`
}

type moderateRequest struct {
	IsActive *bool `json:"is_active"`
}

type userResource struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type commentResource struct {
	ID           int64             `json:"id"`
	EventID      int64             `json:"event_id"`
	ParentID     *int64            `json:"parent_id"`
	Comment      string            `json:"comment"`
	CreatedAt    string            `json:"created_at"`
	CreatedHuman string            `json:"created_human"`
	TotalLikes   int               `json:"total_likes"`
	IsLiked      bool              `json:"is_liked"`
	User         userResource      `json:"user"`
	RepliesCount int               `json:"replies_count"`
	Replies      []commentResource `json:"replies"`
}

type listResponse struct {
	Comments []commentResource `json:"comments"`
}

type likeStatusResponse struct {
	Liked bool `json:"liked"`
}

// CreateEventComment handles POST /v1/events/{event_id}/comments
func CreateEventComment(svc *thread.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, ok := pathID(w, r, "event_id")
		if !ok {
			return
		}
		var req createCommentRequest
		if !decode(w, r, &req) {
			return
		}
		if req.EventID != nil && *req.EventID != eventID {
			api.BadRequest(w, "EVENT_ID_MISMATCH", "event_id in body does not match the path", requestID(r), map[string]any{"field": "event_id"})
			return
		}
		addComment(w, r, svc, log, eventID, req)
	}
}

// CreateComment handles POST /v1/comments with event_id in the body.
func CreateComment(svc *thread.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCommentRequest
		if !decode(w, r, &req) {
			return
		}
		if req.EventID == nil {
			api.BadRequest(w, "MISSING_ID", "event_id is required", requestID(r), map[string]any{"field": "event_id"})
			return
		}
		addComment(w, r, svc, log, *req.EventID, req)
	}
}

func addComment(w http.ResponseWriter, r *http.Request, svc *thread.Service, log *zap.Logger, eventID int64, req createCommentRequest) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "UNAUTHORIZED", "authentication required", requestID(r))
		return
	}

	created, err := svc.AddComment(r.Context(), thread.AddCommentInput{
		EventID:  eventID,
		UserID:   userID,
		Body:     req.Comment,
		ParentID: req.ParentID,
	})
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, newCommentResource(created, clock()))
}

// ToggleLike handles POST /v1/comments/{comment_id}/like
func ToggleLike(svc *thread.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		commentID, ok := pathID(w, r, "comment_id")
		if !ok {
			return
		}
		toggleLike(w, r, svc, log, commentID)
	}
}

// ToggleLikeByBody handles POST /v1/comments/like with comment_id in the body.
func ToggleLikeByBody(svc *thread.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req toggleLikeRequest
		if !decode(w, r, &req) {
			return
		}
		if req.CommentID == nil || *req.CommentID <= 0 {
			api.BadRequest(w, "MISSING_ID", "comment_id is required", requestID(r), map[string]any{"field": "comment_id"})
			return
		}
		toggleLike(w, r, svc, log, *req.CommentID)
	}
}

func toggleLike(w http.ResponseWriter, r *http.Request, svc *thread.Service, log *zap.Logger, commentID int64) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "UNAUTHORIZED", "authentication required", requestID(r))
		return
	}
	res, err := svc.ToggleLike(r.Context(), commentID, userID)
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

// LikeStatus handles GET /v1/comments/{comment_id}/like
func LikeStatus(svc *thread.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", requestID(r))
			return
		}
		commentID, ok := pathID(w, r, "comment_id")
		if !ok {
			return
		}
		liked, err := svc.LikeStatus(r.Context(), commentID, userID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, likeStatusResponse{Liked: liked})
	}
}

// ListComments handles GET /v1/events/{event_id}/comments
func ListComments(svc *thread.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, ok := pathID(w, r, "event_id")
		if !ok {
			return
		}

		var viewer *int64
		if uid, ok := auth.UserIDFromContext(r.Context()); ok {
			viewer = &uid
		}

		views, err := svc.ListComments(r.Context(), eventID, viewer)
		if err != nil {
			writeError(w, r, log, err)
			return
		}

		now := clock()
		out := make([]commentResource, len(views))
		for i, v := range views {
			out[i] = newViewResource(v, now)
		}
		api.WriteJSON(w, http.StatusOK, listResponse{Comments: out})
	}
}

// ModerateComment handles PATCH /v1/comments/{comment_id}
func ModerateComment(svc *thread.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", requestID(r))
			return
		}
		commentID, ok := pathID(w, r, "comment_id")
		if !ok {
			return
		}
		var req moderateRequest
		if !decode(w, r, &req) {
			return
		}
		if req.IsActive == nil {
			api.BadRequest(w, "MISSING_FIELD", "is_active is required", requestID(r), map[string]any{"field": "is_active"})
			return
		}
		if err := svc.SetActive(r.Context(), commentID, *req.IsActive, userID); err != nil {
			writeError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func newCommentResource(c store.Comment, now time.Time) commentResource {
	return commentResource{
		ID:           c.ID,
		EventID:      c.EventID,
		ParentID:     c.ParentID,
		Comment:      c.Body,
		CreatedAt:    c.CreatedAt.UTC().Format(time.RFC3339),
		CreatedHuman: humanize.RelTime(c.CreatedAt, now, "ago", "from now"),
		TotalLikes:   c.TotalLikes,
		User:         userResource{ID: c.Author.ID, Name: c.Author.Name},
		RepliesCount: c.RepliesCount,
		Replies:      []commentResource{},
	}
}

func newViewResource(v thread.CommentView, now time.Time) commentResource {
	res := commentResource{
		ID:           v.ID,
		EventID:      v.EventID,
		ParentID:     v.ParentID,
		Comment:      v.Body,
		CreatedAt:    v.CreatedAt.UTC().Format(time.RFC3339),
		CreatedHuman: humanize.RelTime(v.CreatedAt, now, "ago", "from now"),
		TotalLikes:   v.TotalLikes,
		IsLiked:      v.IsLiked,
		User:         userResource{ID: v.Author.ID, Name: v.Author.Name},
		RepliesCount: v.RepliesCount,
		Replies:      make([]commentResource, len(v.Replies)),
	}
	for i, reply := range v.Replies {
		res.Replies[i] = newViewResource(reply, now)
	}
	return res
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		api.BadRequest(w, "INVALID_ID", name+" must be a positive integer", requestID(r), map[string]any{"field": name})
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		api.BadRequest(w, "INVALID_JSON", "invalid JSON", requestID(r), nil)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	rid := requestID(r)
	if apperr.KindOf(err) == apperr.KindUnknown {
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", rid),
			zap.Error(err))
	}
	api.WriteAppError(w, rid, err)
}

func requestID(r *http.Request) string {
	return httpserver.RequestIDFromContext(r.Context())
}
