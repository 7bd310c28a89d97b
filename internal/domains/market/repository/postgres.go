package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/xid"

	"bookresale-backend/internal/domains/market/model"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore - Constructor
func NewPostgresStore(pool *pgxpool.Pool) SnapshotStore {
	return &postgresStore{pool: pool}
}

func (s *postgresStore) Latest(ctx context.Context, key string, maxAge time.Duration) (*model.Snapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, key, payload, created_at
		FROM market_data
		WHERE key = $1 AND created_at > now() - $2::interval
		ORDER BY created_at DESC
		LIMIT 1
	`, key, fmt.Sprintf("%d seconds", int(maxAge.Seconds())))

	var (
		snap    model.Snapshot
		payload []byte
	)
	err := row.Scan(&snap.ID, &snap.Key, &payload, &snap.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read market snapshot: %w", err)
	}
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decode market snapshot: %w", err)
	}
	return &snap, nil
}

func (s *postgresStore) Append(ctx context.Context, snap *model.Snapshot) error {
	if snap.ID == "" {
		snap.ID = xid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode market snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO market_data (id, key, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, snap.ID, snap.Key, payload, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("append market snapshot: %w", err)
	}
	return nil
}
