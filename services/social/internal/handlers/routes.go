package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/dojo-academy/internal/platform/auth"
	"github.com/example/dojo-academy/internal/platform/httpserver"
	"github.com/example/dojo-academy/services/social/internal/thread"
)

// Routes mounts the comment API under /v1. limiter may be nil.
func Routes(r chi.Router, svc *thread.Service, verifier auth.JWTVerifier, limiter *httpserver.RateLimiter, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	r.Route("/v1", func(r chi.Router) {
		r.With(auth.OptionalUser(verifier)).Get("/events/{event_id}/comments", ListComments(svc, log))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser(verifier))
			r.Get("/comments/{comment_id}/like", LikeStatus(svc, log))
			r.With(auth.RequireRole(auth.RoleInstructor, auth.RoleAdmin)).
				Patch("/comments/{comment_id}", ModerateComment(svc, log))

			r.Group(func(r chi.Router) {
				if limiter != nil {
					r.Use(limiter.Middleware)
				}
				r.Post("/events/{event_id}/comments", CreateEventComment(svc, log))
				r.Post("/comments", CreateComment(svc, log))
				r.Post("/comments/like", ToggleLikeByBody(svc, log))
				r.Post("/comments/{comment_id}/like", ToggleLike(svc, log))
			})
		})
	})
}

// UserKey buckets rate limits by authenticated user, falling back to the
// client address.
func UserKey(r *http.Request) string {
	if uid, ok := auth.UserIDFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(uid, 10)
	}
	return "ip:" + httpserver.ClientIP(r)
}
