package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	const query = `
		INSERT INTO stored_files
			(token, chat_id, message_id, file_id, file_unique_id, session, file_name, mime_type, size, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		rec.Token, rec.Ref.ChatID, rec.Ref.MessageID, rec.Ref.FileID, rec.Ref.FileUniqueID, rec.Ref.Session,
		rec.FileName, rec.MimeType, rec.Size, rec.OwnerID, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateToken
		}
		return fmt.Errorf("insert stored file: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, token string) (Record, error) {
	const query = `
		SELECT token, chat_id, message_id, file_id, file_unique_id, session, file_name, mime_type, size, owner_id, created_at
		FROM stored_files
		WHERE token = $1`

	var rec Record
	err := s.pool.QueryRow(ctx, query, token).Scan(
		&rec.Token, &rec.Ref.ChatID, &rec.Ref.MessageID, &rec.Ref.FileID, &rec.Ref.FileUniqueID, &rec.Ref.Session,
		&rec.FileName, &rec.MimeType, &rec.Size, &rec.OwnerID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("select stored file: %w", err)
	}
	return rec, nil
}
