package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/xid"

	"bookresale-backend/internal/domains/pricing/model"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore - Constructor
func NewPostgresStore(pool *pgxpool.Pool) DecisionStore {
	return &postgresStore{pool: pool}
}

func (s *postgresStore) Append(ctx context.Context, decision *model.Decision) error {
	if decision.ID == "" {
		decision.ID = xid.New().String()
	}
	if decision.CreatedAt.IsZero() {
		decision.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("encode pricing decision: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO price_history (id, owner_id, item_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, decision.ID, decision.OwnerID, decision.ItemID, payload, decision.CreatedAt)
	if err != nil {
		return fmt.Errorf("append pricing decision: %w", err)
	}
	return nil
}

func (s *postgresStore) ListByItem(ctx context.Context, ownerID, itemID string) ([]*model.Decision, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload
		FROM price_history
		WHERE owner_id = $1 AND item_id = $2
		ORDER BY created_at DESC
	`, ownerID, itemID)
	if err != nil {
		return nil, fmt.Errorf("list pricing decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*model.Decision
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan pricing decision: %w", err)
		}
		var d model.Decision
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, fmt.Errorf("decode pricing decision: %w", err)
		}
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}
