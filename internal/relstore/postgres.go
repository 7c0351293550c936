package relstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the relational store's default production implementation,
// grounded on the teacher's internal/persistence/databases/pool.go: a pooled
// pgxpool.Pool with queries wrapping connectivity failures in ErrUnreachable
// so the gateway can translate them to a terminal frame (spec.md §6).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore parses dsn and opens a pgx connection pool.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open pool: %v", ErrUnreachable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnreachable, err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) ListRooms(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT room_id FROM rooms WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list rooms: %v", ErrUnreachable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan room id: %v", ErrUnreachable, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rooms: %v", ErrUnreachable, err)
	}
	return ids, nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (Room, error) {
	var r Room
	err := s.pool.QueryRow(ctx, `SELECT room_id, title, search FROM rooms WHERE room_id = $1`, roomID).
		Scan(&r.ID, &r.Title, &r.Search)
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, fmt.Errorf("room %s not found: %w", roomID, ErrUnreachable)
	}
	if err != nil {
		return Room{}, fmt.Errorf("%w: get room: %v", ErrUnreachable, err)
	}
	return r, nil
}
