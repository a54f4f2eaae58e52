package thread

import (
	"context"
	"errors"
	"html"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/example/dojo-academy/internal/platform/activity"
	"github.com/example/dojo-academy/internal/platform/apperr"
	"github.com/example/dojo-academy/services/social/internal/events"
	"github.com/example/dojo-academy/services/social/internal/store"
)

type published struct {
	subject string
	userID  int64
	props   map[string]any
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
}

func (p *recordingPublisher) Publish(subject string, userID int64, props map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{subject: subject, userID: userID, props: props})
}

func (p *recordingPublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.sent))
	for i, e := range p.sent {
		out[i] = e.subject
	}
	return out
}

func newTestService(t *testing.T, opts ...Option) (*Service, *store.InMemoryCommentStore) {
	t.Helper()
	cs := store.NewInMemoryCommentStore()
	cs.RegisterUser(1, "Sensei Mori")
	cs.RegisterUser(2, "Ren")
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(cs, events.NewMemoryDirectory(10, 20), opts...), cs
}

func addRoot(t *testing.T, svc *Service, eventID, userID int64, body string) store.Comment {
	t.Helper()
	c, err := svc.AddComment(context.Background(), AddCommentInput{EventID: eventID, UserID: userID, Body: body})
	if err != nil {
		t.Fatalf("add root: %v", err)
	}
	return c
}

func addReply(t *testing.T, svc *Service, eventID, userID, parentID int64, body string) store.Comment {
	t.Helper()
	c, err := svc.AddComment(context.Background(), AddCommentInput{EventID: eventID, UserID: userID, Body: body, ParentID: &parentID})
	if err != nil {
		t.Fatalf("add reply: %v", err)
	}
	return c
}

func TestAddComment_Root(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newTestService(t, WithPublisher(pub))

	c := addRoot(t, svc, 10, 1, "  Great seminar!  ")
	if c.Body != "Great seminar!" {
		t.Fatalf("expected trimmed body, got %q", c.Body)
	}
	if c.ParentID != nil {
		t.Fatalf("expected root comment, got parent %d", *c.ParentID)
	}
	if !c.Active {
		t.Fatal("expected new comment to be active")
	}
	if c.Author.Name != "Sensei Mori" {
		t.Fatalf("expected author name, got %q", c.Author.Name)
	}
	if c.TotalLikes != 0 || c.RepliesCount != 0 {
		t.Fatalf("expected zero aggregates, got likes=%d replies=%d", c.TotalLikes, c.RepliesCount)
	}
	if got := pub.subjects(); len(got) != 1 || got[0] != activity.SubjectCommentCreated {
		t.Fatalf("expected one created event, got %v", got)
	}
}

func TestAddComment_FlattensReplyToReply(t *testing.T) {
	svc, _ := newTestService(t)

	a := addRoot(t, svc, 10, 1, "A")
	b := addReply(t, svc, 10, 2, a.ID, "B")
	c := addReply(t, svc, 10, 1, b.ID, "C")

	if b.ParentID == nil || *b.ParentID != a.ID {
		t.Fatalf("expected B.parent = %d, got %v", a.ID, b.ParentID)
	}
	if c.ParentID == nil || *c.ParentID != a.ID {
		t.Fatalf("expected C.parent = %d (root), got %v", a.ID, c.ParentID)
	}
}

func TestAddComment_DepthNeverExceedsOne(t *testing.T) {
	svc, cs := newTestService(t)
	ctx := context.Background()

	root := addRoot(t, svc, 10, 1, "root")
	last := root
	var ids []int64
	for i := 0; i < 5; i++ {
		last = addReply(t, svc, 10, 2, last.ID, "reply")
		ids = append(ids, last.ID)
	}
	for _, id := range ids {
		c, err := cs.FindByID(ctx, id)
		if err != nil {
			t.Fatalf("find %d: %v", id, err)
		}
		parent, err := cs.FindByID(ctx, *c.ParentID)
		if err != nil {
			t.Fatalf("find parent %d: %v", *c.ParentID, err)
		}
		if parent.ParentID != nil {
			t.Fatalf("comment %d has a parent with a parent", id)
		}
	}
}

func TestAddComment_CrossEventParent(t *testing.T) {
	svc, _ := newTestService(t)
	root := addRoot(t, svc, 10, 1, "on event 10")

	pid := root.ID
	_, err := svc.AddComment(context.Background(), AddCommentInput{EventID: 20, UserID: 2, Body: "x", ParentID: &pid})
	if apperr.KindOf(err) != apperr.KindInvalidReference {
		t.Fatalf("expected invalid reference, got %v", err)
	}
	if !errors.Is(err, ErrCrossEventParent) {
		t.Fatalf("expected ErrCrossEventParent, got %v", err)
	}
}

func TestAddComment_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddComment(ctx, AddCommentInput{EventID: 99, UserID: 1, Body: "x"})
	if !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}

	missing := int64(404)
	_, err = svc.AddComment(ctx, AddCommentInput{EventID: 10, UserID: 1, Body: "x", ParentID: &missing})
	if !errors.Is(err, ErrParentNotFound) {
		t.Fatalf("expected ErrParentNotFound, got %v", err)
	}
	if ae, ok := apperr.As(err); !ok || ae.Message != "parent comment not found" {
		t.Fatalf("expected parent message, got %v", err)
	}
}

func TestAddComment_Validation(t *testing.T) {
	svc, cs := newTestService(t, WithMaxBodyLength(10))
	ctx := context.Background()
	negative := int64(-3)

	cases := []struct {
		name string
		in   AddCommentInput
		code string
	}{
		{"empty", AddCommentInput{EventID: 10, UserID: 1, Body: "   "}, "EMPTY_COMMENT"},
		{"markup only", AddCommentInput{EventID: 10, UserID: 1, Body: "<b></b>"}, "EMPTY_COMMENT"},
		{"too long", AddCommentInput{EventID: 10, UserID: 1, Body: strings.Repeat("a", 11)}, "COMMENT_TOO_LONG"},
		{"bad event", AddCommentInput{EventID: 0, UserID: 1, Body: "x"}, "INVALID_EVENT_ID"},
		{"bad user", AddCommentInput{EventID: 10, UserID: -1, Body: "x"}, "INVALID_USER_ID"},
		{"bad parent", AddCommentInput{EventID: 10, UserID: 1, Body: "x", ParentID: &negative}, "INVALID_PARENT_ID"},
	}
	for _, tc := range cases {
		_, err := svc.AddComment(ctx, tc.in)
		ae, ok := apperr.As(err)
		if !ok || ae.Kind != apperr.KindValidation || ae.Code != tc.code {
			t.Fatalf("%s: expected validation %s, got %v", tc.name, tc.code, err)
		}
	}

	nodes, _ := cs.ListForEvent(ctx, 10)
	if len(nodes) != 0 {
		t.Fatalf("expected nothing persisted, got %d comments", len(nodes))
	}
}

func TestAddComment_StripsMarkup(t *testing.T) {
	svc, _ := newTestService(t)
	c := addRoot(t, svc, 10, 1, `<script>alert(1)</script>Osu! <b>see you</b> at the dojo`)
	if c.Body != "Osu! see you at the dojo" {
		t.Fatalf("expected markup stripped, got %q", c.Body)
	}

	c = addRoot(t, svc, 10, 1, "Kata & kumite, don't be late")
	if c.Body != "Kata & kumite, don't be late" {
		t.Fatalf("expected plain text kept as typed, got %q", c.Body)
	}

	c = addRoot(t, svc, 10, 1, "Bring &lt;b&gt;both&lt;/b&gt; belts")
	if c.Body != "Bring both belts" {
		t.Fatalf("expected encoded markup stripped, got %q", c.Body)
	}
}

func TestAddComment_RejectsEncodedMarkupOnly(t *testing.T) {
	svc, cs := newTestService(t)
	ctx := context.Background()

	for _, body := range []string{
		"&lt;script&gt;alert(1)&lt;/script&gt;",
		"&lt;img src=x onerror=alert(1)&gt;",
		"&amp;lt;script&amp;gt;alert(1)&amp;lt;/script&amp;gt;",
	} {
		_, err := svc.AddComment(ctx, AddCommentInput{EventID: 10, UserID: 1, Body: body})
		ae, ok := apperr.As(err)
		if !ok || ae.Code != "EMPTY_COMMENT" {
			t.Fatalf("%q: expected EMPTY_COMMENT, got %v", body, err)
		}
	}

	roots, err := cs.ListForEvent(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(roots) != 0 {
		t.Fatalf("expected nothing stored, got %+v", roots)
	}
}

func TestAddComment_StoredBodyIsSanitizerStable(t *testing.T) {
	svc, _ := newTestService(t)
	for _, body := range []string{
		"&lt;a href=javascript:alert(1)&gt;click&lt;/a&gt;",
		"5 &lt; 6 &amp;&amp; 7 &gt; 6",
		"&amp;amp;",
	} {
		c := addRoot(t, svc, 10, 1, body)
		if strings.Contains(c.Body, "<a") {
			t.Fatalf("%q: expected no live markup, got %q", body, c.Body)
		}
		if again := html.UnescapeString(svc.sanitizer.Sanitize(c.Body)); again != c.Body {
			t.Fatalf("%q: expected stored body %q to survive sanitizing, got %q", body, c.Body, again)
		}
	}
}

func TestAddComment_ZeroParentIsRoot(t *testing.T) {
	svc, _ := newTestService(t)
	zero := int64(0)
	c, err := svc.AddComment(context.Background(), AddCommentInput{EventID: 10, UserID: 1, Body: "root", ParentID: &zero})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if c.ParentID != nil {
		t.Fatalf("expected root comment, got parent %d", *c.ParentID)
	}
}

func TestToggleLike_Pair(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newTestService(t, WithPublisher(pub))
	ctx := context.Background()
	c := addRoot(t, svc, 10, 1, "like me")

	first, err := svc.ToggleLike(ctx, c.ID, 2)
	if err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if !first.Liked || first.TotalLikes != 1 {
		t.Fatalf("expected liked with 1, got %+v", first)
	}
	second, err := svc.ToggleLike(ctx, c.ID, 2)
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if second.Liked || second.TotalLikes != 0 {
		t.Fatalf("expected unliked with 0, got %+v", second)
	}

	got := pub.subjects()
	want := []string{activity.SubjectCommentCreated, activity.SubjectCommentLiked, activity.SubjectCommentUnliked}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestToggleLike_UnknownComment(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ToggleLike(context.Background(), 12345, 1)
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestToggleLike_ConcurrentSamePair(t *testing.T) {
	svc, cs := newTestService(t)
	ctx := context.Background()
	c := addRoot(t, svc, 10, 1, "race")

	const n = 21
	var wg sync.WaitGroup
	var mu sync.Mutex
	var likes int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.ToggleLike(ctx, c.ID, 2)
			if err != nil {
				t.Errorf("toggle: %v", err)
				return
			}
			if res.Liked {
				mu.Lock()
				likes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, _ := cs.FindByID(ctx, c.ID)
	if got.TotalLikes != 1 {
		t.Fatalf("expected exactly one like after an odd number of toggles, got %d", got.TotalLikes)
	}
	if likes != n/2+1 {
		t.Fatalf("expected %d liked outcomes, got %d", n/2+1, likes)
	}
}

func TestListComments_Shape(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	root := addRoot(t, svc, 10, 1, "root")
	r1 := addReply(t, svc, 10, 2, root.ID, "first")
	r2 := addReply(t, svc, 10, 1, r1.ID, "second")

	views, err := svc.ListComments(ctx, 10, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 root, got %d", len(views))
	}
	v := views[0]
	if v.RepliesCount != 2 || len(v.Replies) != 2 {
		t.Fatalf("expected 2 replies, got count=%d len=%d", v.RepliesCount, len(v.Replies))
	}
	if v.Replies[0].ID != r1.ID || v.Replies[1].ID != r2.ID {
		t.Fatalf("expected replies [%d %d], got [%d %d]", r1.ID, r2.ID, v.Replies[0].ID, v.Replies[1].ID)
	}
	for _, reply := range v.Replies {
		if reply.Replies == nil || len(reply.Replies) != 0 {
			t.Fatalf("expected empty nested replies, got %#v", reply.Replies)
		}
		if reply.ParentID == nil || *reply.ParentID != root.ID {
			t.Fatalf("expected reply parent %d, got %v", root.ID, reply.ParentID)
		}
	}
	if v.Author.Name != "Sensei Mori" {
		t.Fatalf("expected author on view, got %+v", v.Author)
	}
}

func TestListComments_ViewerFlag(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	root := addRoot(t, svc, 10, 1, "root")
	reply := addReply(t, svc, 10, 2, root.ID, "reply")
	other := addRoot(t, svc, 10, 2, "other")
	if _, err := svc.ToggleLike(ctx, reply.ID, 7); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := svc.ToggleLike(ctx, other.ID, 8); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	viewer := int64(7)
	views, err := svc.ListComments(ctx, 10, &viewer)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	flags := map[int64]bool{}
	for _, v := range views {
		flags[v.ID] = v.IsLiked
		for _, r := range v.Replies {
			flags[r.ID] = r.IsLiked
		}
	}
	if !flags[reply.ID] || flags[root.ID] || flags[other.ID] {
		t.Fatalf("expected only reply liked by viewer, got %v", flags)
	}

	anon, _ := svc.ListComments(ctx, 10, nil)
	for _, v := range anon {
		if v.IsLiked {
			t.Fatalf("expected no liked flags without viewer, got %d", v.ID)
		}
		for _, r := range v.Replies {
			if r.IsLiked {
				t.Fatalf("expected no liked flags without viewer, got reply %d", r.ID)
			}
		}
	}
}

func TestListComments_EmptyEvent(t *testing.T) {
	svc, _ := newTestService(t)
	views, err := svc.ListComments(context.Background(), 20, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if views == nil || len(views) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", views)
	}
}

func TestLikeStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c := addRoot(t, svc, 10, 1, "x")

	if _, err := svc.LikeStatus(ctx, 999, 1); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	liked, err := svc.LikeStatus(ctx, c.ID, 2)
	if err != nil || liked {
		t.Fatalf("expected not liked, got %v err=%v", liked, err)
	}
	_, _ = svc.ToggleLike(ctx, c.ID, 2)
	liked, _ = svc.LikeStatus(ctx, c.ID, 2)
	if !liked {
		t.Fatal("expected liked after toggle")
	}
}

func TestSetActive_HidesFromListing(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newTestService(t, WithPublisher(pub))
	ctx := context.Background()

	root := addRoot(t, svc, 10, 1, "root")
	reply := addReply(t, svc, 10, 2, root.ID, "spam")
	if err := svc.SetActive(ctx, reply.ID, false, 1); err != nil {
		t.Fatalf("set active: %v", err)
	}

	views, _ := svc.ListComments(ctx, 10, nil)
	if len(views) != 1 || views[0].RepliesCount != 0 || len(views[0].Replies) != 0 {
		t.Fatalf("expected hidden reply excluded, got %+v", views)
	}
	if err := svc.SetActive(ctx, 999, false, 1); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	got := pub.subjects()
	if got[len(got)-1] != activity.SubjectCommentModerated {
		t.Fatalf("expected moderated event last, got %v", got)
	}
}
