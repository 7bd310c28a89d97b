package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/xid"

	"bookresale-backend/internal/domains/condition/model"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore - Constructor
func NewPostgresStore(pool *pgxpool.Pool) AssessmentStore {
	return &postgresStore{pool: pool}
}

func (s *postgresStore) Append(ctx context.Context, assessment *model.Assessment) error {
	if assessment.ID == "" {
		assessment.ID = xid.New().String()
	}
	if assessment.CreatedAt.IsZero() {
		assessment.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(assessment)
	if err != nil {
		return fmt.Errorf("encode assessment: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO condition_assessments (id, owner_id, item_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, assessment.ID, assessment.OwnerID, assessment.ItemID, payload, assessment.CreatedAt)
	if err != nil {
		return fmt.Errorf("append assessment: %w", err)
	}
	return nil
}

func (s *postgresStore) ListByItem(ctx context.Context, ownerID, itemID string) ([]*model.Assessment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload
		FROM condition_assessments
		WHERE owner_id = $1 AND item_id = $2
		ORDER BY created_at DESC
	`, ownerID, itemID)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	defer rows.Close()

	var assessments []*model.Assessment
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		var a model.Assessment
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("decode assessment: %w", err)
		}
		assessments = append(assessments, &a)
	}
	return assessments, rows.Err()
}
