package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrRoomNotFound = errors.New("room not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const roomColumns = `id, slug, title, state, created_at, updated_at`

func (s *PostgresStore) GetRoom(ctx context.Context, id string) (Room, error) {
	return s.scanRoom(s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, id))
}

func (s *PostgresStore) GetRoomBySlug(ctx context.Context, slug string) (Room, error) {
	return s.scanRoom(s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE slug=$1`, slug))
}

func (s *PostgresStore) scanRoom(row *sql.Row) (Room, error) {
	var room Room
	err := row.Scan(&room.ID, &room.Slug, &room.Title, &room.State, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("get room: %w", err)
	}
	return room, nil
}

// CreateRoom inserts an empty room with a generated id.
func (s *PostgresStore) CreateRoom(ctx context.Context, slug, title string) (Room, error) {
	room := Room{ID: uuid.NewString(), Slug: slug, Title: title}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rooms (id, slug, title)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, room.ID, room.Slug, room.Title).Scan(&room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return Room{}, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

// LoadRoomState returns the stored snapshot of a room, or nil when the room
// has none yet.
func (s *PostgresStore) LoadRoomState(ctx context.Context, id string) ([]byte, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM rooms WHERE id=$1`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load room state: %w", err)
	}
	return state, nil
}

// SaveRoomState upserts the snapshot and title of a room. Rooms first seen by
// the relay use their id as slug.
func (s *PostgresStore) SaveRoomState(ctx context.Context, id string, state []byte, title string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, slug, title, state)
		VALUES ($1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state, title = EXCLUDED.title, updated_at = NOW()
	`, id, title, state)
	if err != nil {
		return fmt.Errorf("save room state: %w", err)
	}
	return nil
}
