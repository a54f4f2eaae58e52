package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/dojo-academy/internal/platform/apperr"
)

// toggleAttempts bounds the delete-or-insert loop of ToggleLike.
const toggleAttempts = 3

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// commentColumns is the projection shared by every comment read.
var commentColumns = []string{
	"c.id", "c.event_id", "c.user_id", "c.parent_id", "c.comment", "c.is_active", "c.created_at",
	"COALESCE(u.name, '')",
	"(SELECT count(*) FROM event_comment_likes l WHERE l.comment_id = c.id)",
	"(SELECT count(*) FROM event_comments r WHERE r.parent_id = c.id AND r.is_active)",
}

// PostgresCommentStore persists comments and likes in Postgres.
type PostgresCommentStore struct {
	pool *pgxpool.Pool
}

// NewPostgresCommentStore creates a store backed by Postgres.
func NewPostgresCommentStore(pool *pgxpool.Pool) *PostgresCommentStore {
	return &PostgresCommentStore{pool: pool}
}

func (s *PostgresCommentStore) Create(ctx context.Context, c Comment) (Comment, error) {
	const q = `WITH ins AS (
	             INSERT INTO event_comments (event_id, user_id, parent_id, comment, is_active)
	             VALUES ($1, $2, $3, $4, $5)
	             RETURNING id, event_id, user_id, parent_id, comment, is_active, created_at
	           )
	           SELECT ins.id, ins.event_id, ins.user_id, ins.parent_id, ins.comment, ins.is_active,
	                  ins.created_at, COALESCE(u.name, '')
	           FROM ins LEFT JOIN users u ON u.user_id = ins.user_id`
	var out Comment
	err := s.pool.QueryRow(ctx, q, c.EventID, c.UserID, c.ParentID, c.Body, c.Active).
		Scan(&out.ID, &out.EventID, &out.UserID, &out.ParentID, &out.Body, &out.Active,
			&out.CreatedAt, &out.Author.Name)
	if err != nil {
		return Comment{}, mapPgError(err)
	}
	out.Author.ID = out.UserID
	return out, nil
}

func (s *PostgresCommentStore) FindByID(ctx context.Context, id int64) (Comment, error) {
	q, args, err := selectComments().Where(sq.Eq{"c.id": id}).ToSql()
	if err != nil {
		return Comment{}, fmt.Errorf("build find query: %w", err)
	}
	out, err := scanComment(s.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Comment{}, ErrCommentNotFound
	}
	if err != nil {
		return Comment{}, err
	}
	return out, nil
}

func (s *PostgresCommentStore) ListForEvent(ctx context.Context, eventID int64) ([]Comment, error) {
	roots, err := s.query(ctx, selectComments().
		Where(sq.Eq{"c.event_id": eventID, "c.parent_id": nil, "c.is_active": true}).
		OrderBy("c.created_at DESC", "c.id DESC"))
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return []Comment{}, nil
	}

	rootIDs := make([]int64, len(roots))
	for i, r := range roots {
		rootIDs[i] = r.ID
	}
	replies, err := s.query(ctx, selectComments().
		Where(sq.Eq{"c.parent_id": rootIDs, "c.is_active": true}).
		OrderBy("c.created_at ASC", "c.id ASC"))
	if err != nil {
		return nil, err
	}

	replyMap := make(map[int64][]Comment)
	for _, r := range replies {
		if r.ParentID != nil {
			replyMap[*r.ParentID] = append(replyMap[*r.ParentID], r)
		}
	}
	for i := range roots {
		roots[i].Replies = replyMap[roots[i].ID]
		if roots[i].Replies == nil {
			roots[i].Replies = []Comment{}
		}
	}
	return roots, nil
}

// ToggleLike deletes the like when present and inserts it otherwise. A
// concurrent toggle by the same user makes both statements miss; the loop
// retries against the fresh state and gives up with ErrLikeConflict.
func (s *PostgresCommentStore) ToggleLike(ctx context.Context, commentID, userID int64) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM event_comments WHERE id = $1)`, commentID).Scan(&exists)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrCommentNotFound
	}

	for attempt := 0; attempt < toggleAttempts; attempt++ {
		tag, err := tx.Exec(ctx,
			`DELETE FROM event_comment_likes WHERE comment_id = $1 AND user_id = $2`,
			commentID, userID)
		if err != nil {
			return false, mapPgError(err)
		}
		if tag.RowsAffected() > 0 {
			return false, tx.Commit(ctx)
		}

		tag, err = tx.Exec(ctx,
			`INSERT INTO event_comment_likes (comment_id, user_id) VALUES ($1, $2)
			 ON CONFLICT (comment_id, user_id) DO NOTHING`,
			commentID, userID)
		if err != nil {
			return false, mapPgError(err)
		}
		if tag.RowsAffected() > 0 {
			return true, tx.Commit(ctx)
		}
	}
	return false, ErrLikeConflict
}

func (s *PostgresCommentStore) LikeExists(ctx context.Context, commentID, userID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM event_comment_likes WHERE comment_id = $1 AND user_id = $2)`,
		commentID, userID).Scan(&exists)
	return exists, err
}

func (s *PostgresCommentStore) LikedByUser(ctx context.Context, userID int64, commentIDs []int64) (map[int64]bool, error) {
	out := make(map[int64]bool)
	if len(commentIDs) == 0 {
		return out, nil
	}
	q, args, err := psql.Select("comment_id").
		From("event_comment_likes").
		Where(sq.Eq{"user_id": userID, "comment_id": commentIDs}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build liked query: %w", err)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (s *PostgresCommentStore) SetActive(ctx context.Context, commentID int64, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE event_comments SET is_active = $1 WHERE id = $2`, active, commentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCommentNotFound
	}
	return nil
}

func (s *PostgresCommentStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func selectComments() sq.SelectBuilder {
	return psql.Select(commentColumns...).
		From("event_comments c").
		LeftJoin("users u ON u.user_id = c.user_id")
}

func (s *PostgresCommentStore) query(ctx context.Context, b sq.SelectBuilder) ([]Comment, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build comment query: %w", err)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanComment(row pgx.Row) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.EventID, &c.UserID, &c.ParentID, &c.Body, &c.Active, &c.CreatedAt,
		&c.Author.Name, &c.TotalLikes, &c.RepliesCount)
	c.Author.ID = c.UserID
	return c, err
}

// mapPgError turns constraint violations into domain errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgForeignKeyViolation:
		switch pgErr.ConstraintName {
		case "fk_event_comments_event":
			return apperr.Wrap(ErrEventNotFound, err)
		case "fk_event_comments_parent":
			return apperr.Wrap(ErrParentNotFound, err)
		default:
			return apperr.Wrap(ErrCommentNotFound, err)
		}
	case pgUniqueViolation, pgCheckViolation:
		return apperr.Wrap(ErrConstraint, err)
	}
	return err
}
