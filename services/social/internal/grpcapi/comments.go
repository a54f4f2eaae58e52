package grpcapi

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/dojo-academy/internal/platform/apperr"
	"github.com/example/dojo-academy/services/social/internal/store"
	"github.com/example/dojo-academy/services/social/internal/thread"
)

// userMetadataKey carries the caller's user id, set by the gateway after
// token verification.
const userMetadataKey = "user_id"

// maxExactInt is the largest integer a protobuf number holds exactly.
const maxExactInt = 1 << 53

// CommentsServer is the comment API served under ServiceName. Requests and
// responses are google.protobuf.Struct values using the JSON field names of
// the HTTP API.
type CommentsServer interface {
	AddComment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ToggleLike(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	LikeStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListComments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var commentsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CommentsServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("AddComment", CommentsServer.AddComment),
		unaryMethod("ToggleLike", CommentsServer.ToggleLike),
		unaryMethod("LikeStatus", CommentsServer.LikeStatus),
		unaryMethod("ListComments", CommentsServer.ListComments),
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterCommentsServer registers srv on s.
func RegisterCommentsServer(s grpc.ServiceRegistrar, srv CommentsServer) {
	s.RegisterService(&commentsServiceDesc, srv)
}

func unaryMethod(name string, call func(CommentsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CommentsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(CommentsServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// CommentsService adapts thread.Service to CommentsServer.
type CommentsService struct {
	threads *thread.Service
}

func NewCommentsService(threads *thread.Service) *CommentsService {
	return &CommentsService{threads: threads}
}

func (s *CommentsService) AddComment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	eventID, _, err := intField(req, "event_id", true)
	if err != nil {
		return nil, err
	}
	in := thread.AddCommentInput{
		EventID: eventID,
		UserID:  userID,
		Body:    req.GetFields()["comment"].GetStringValue(),
	}
	if parentID, ok, err := intField(req, "parent_id", false); err != nil {
		return nil, err
	} else if ok {
		in.ParentID = &parentID
	}

	created, err := s.threads.AddComment(ctx, in)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(commentFields(created))
}

func (s *CommentsService) ToggleLike(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	commentID, _, err := intField(req, "comment_id", true)
	if err != nil {
		return nil, err
	}
	res, err := s.threads.ToggleLike(ctx, commentID, userID)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"liked": res.Liked, "total_likes": res.TotalLikes})
}

func (s *CommentsService) LikeStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	commentID, _, err := intField(req, "comment_id", true)
	if err != nil {
		return nil, err
	}
	liked, err := s.threads.LikeStatus(ctx, commentID, userID)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"liked": liked})
}

// ListComments serves anonymous callers too; is_liked is then always false.
func (s *CommentsService) ListComments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	eventID, _, err := intField(req, "event_id", true)
	if err != nil {
		return nil, err
	}
	viewer, err := optionalUser(ctx)
	if err != nil {
		return nil, err
	}
	views, err := s.threads.ListComments(ctx, eventID, viewer)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(views))
	for i, v := range views {
		out[i] = viewFields(v)
	}
	return structpb.NewStruct(map[string]any{"comments": out})
}

func requireUser(ctx context.Context) (int64, error) {
	uid, err := optionalUser(ctx)
	if err != nil {
		return 0, err
	}
	if uid == nil {
		return 0, apperr.Unauthorized("UNAUTHORIZED", "missing user_id in metadata")
	}
	return *uid, nil
}

func optionalUser(ctx context.Context) (*int64, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, nil
	}
	vals := md.Get(userMetadataKey)
	if len(vals) == 0 || strings.TrimSpace(vals[0]) == "" {
		return nil, nil
	}
	uid, err := strconv.ParseInt(strings.TrimSpace(vals[0]), 10, 64)
	if err != nil || uid <= 0 {
		return nil, apperr.Unauthorized("UNAUTHORIZED", "invalid user_id in metadata")
	}
	return &uid, nil
}

// intField reads an integral number. Absent and null fields report ok=false,
// which is an error only when required.
func intField(req *structpb.Struct, name string, required bool) (int64, bool, error) {
	v, present := req.GetFields()[name]
	if !present || isNull(v) {
		if required {
			return 0, false, apperr.Validation("MISSING_ID", name, name+" is required")
		}
		return 0, false, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > maxExactInt {
		return 0, false, apperr.Validation("INVALID_ID", name, name+" must be an integer")
	}
	return int64(n.NumberValue), true, nil
}

func isNull(v *structpb.Value) bool {
	_, ok := v.GetKind().(*structpb.Value_NullValue)
	return ok
}

func commentFields(c store.Comment) map[string]any {
	return map[string]any{
		"id":            c.ID,
		"event_id":      c.EventID,
		"parent_id":     optionalID(c.ParentID),
		"comment":       c.Body,
		"created_at":    c.CreatedAt.UTC().Format(time.RFC3339),
		"total_likes":   c.TotalLikes,
		"is_liked":      false,
		"user":          map[string]any{"id": c.Author.ID, "name": c.Author.Name},
		"replies_count": c.RepliesCount,
		"replies":       []any{},
	}
}

func viewFields(v thread.CommentView) map[string]any {
	replies := make([]any, len(v.Replies))
	for i, r := range v.Replies {
		replies[i] = viewFields(r)
	}
	return map[string]any{
		"id":            v.ID,
		"event_id":      v.EventID,
		"parent_id":     optionalID(v.ParentID),
		"comment":       v.Body,
		"created_at":    v.CreatedAt.UTC().Format(time.RFC3339),
		"total_likes":   v.TotalLikes,
		"is_liked":      v.IsLiked,
		"user":          map[string]any{"id": v.Author.ID, "name": v.Author.Name},
		"replies_count": v.RepliesCount,
		"replies":       replies,
	}
}

func optionalID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
