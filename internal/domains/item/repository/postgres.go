package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"bookresale-backend/internal/domains/item/model"
)

type postgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository - Constructor
func NewPostgresRepository(pool *pgxpool.Pool) RepositoryInterface {
	return &postgresRepository{pool: pool}
}

const itemColumns = `owner_id, item_id, status, image_refs, metadata, condition, commercial,
	COALESCE(last_error_kind, ''), COALESCE(last_error_message, ''), created_at, updated_at`

// ========================= CRUD =====================

func (r *postgresRepository) Create(ctx context.Context, item *model.Item) error {
	imageRefs, err := json.Marshal(item.ImageRefs)
	if err != nil {
		return fmt.Errorf("encode image refs: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO items (owner_id, item_id, status, image_refs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (owner_id, item_id) DO NOTHING
	`, item.OwnerID, item.ID, item.Status, imageRefs)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrItemAlreadyExists
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, ownerID, itemID string) (*model.Item, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM items WHERE owner_id = $1 AND item_id = $2
	`, itemColumns), ownerID, itemID)

	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrItemNotFound
		}
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (r *postgresRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.Item, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM items WHERE owner_id = $1`, ownerID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM items
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, itemColumns), ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]model.Item, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, total, rows.Err()
}

func (r *postgresRepository) Delete(ctx context.Context, ownerID, itemID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM items WHERE owner_id = $1 AND item_id = $2`, ownerID, itemID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrItemNotFound
	}
	return nil
}

// ========================= GATE + STATE MACHINE =====================

// AcquireStage moves the item into the stage's in-flight status in one
// conditional UPDATE. The WHERE clause is the atomicity: when two
// deliveries race, the row matches for exactly one of them.
func (r *postgresRepository) AcquireStage(ctx context.Context, ownerID, itemID string, inflight model.Status, allowedFrom []model.Status) (bool, error) {
	allowed := make([]string, len(allowedFrom))
	for i, s := range allowedFrom {
		allowed[i] = string(s)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE items
		SET status = $3, updated_at = now()
		WHERE owner_id = $1 AND item_id = $2 AND status = ANY($4)
	`, ownerID, itemID, inflight, allowed)
	if err != nil {
		return false, fmt.Errorf("acquire stage: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish "already handled" from "no such item".
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM items WHERE owner_id = $1 AND item_id = $2)`,
		ownerID, itemID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("acquire stage existence check: %w", err)
	}
	if !exists {
		return false, model.ErrItemNotFound
	}
	return false, nil
}

// ApplyStatus reads the current status, asks the transition rules for
// the next one, and writes it together with the patch, conditional on
// the status still being what was read. A concurrent change surfaces
// as ErrStatusConflict so the caller can let the bus redeliver.
func (r *postgresRepository) ApplyStatus(ctx context.Context, ownerID, itemID string, requested model.Status, patch *model.Patch) (model.Status, error) {
	var current model.Status
	err := r.pool.QueryRow(ctx,
		`SELECT status FROM items WHERE owner_id = $1 AND item_id = $2`,
		ownerID, itemID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", model.ErrItemNotFound
		}
		return "", fmt.Errorf("read status: %w", err)
	}

	next, err := model.Next(current, requested)
	if err != nil {
		return "", err
	}

	set := []string{"status = $3", "updated_at = now()"}
	args := []any{ownerID, itemID, next}
	idx := 4

	appendJSON := func(column string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", column, err)
		}
		set = append(set, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, raw)
		idx++
		return nil
	}

	if patch != nil {
		if patch.ImageRefs != nil {
			if err := appendJSON("image_refs", patch.ImageRefs); err != nil {
				return "", err
			}
		}
		if patch.Metadata != nil {
			if err := appendJSON("metadata", patch.Metadata); err != nil {
				return "", err
			}
		}
		if patch.Condition != nil {
			if err := appendJSON("condition", patch.Condition); err != nil {
				return "", err
			}
		}
		if patch.Commercial != nil {
			if err := appendJSON("commercial", patch.Commercial); err != nil {
				return "", err
			}
		}
		if patch.LastErrorKind != nil {
			set = append(set, fmt.Sprintf("last_error_kind = $%d", idx))
			args = append(args, *patch.LastErrorKind)
			idx++
		}
		if patch.LastErrorMessage != nil {
			set = append(set, fmt.Sprintf("last_error_message = $%d", idx))
			args = append(args, *patch.LastErrorMessage)
			idx++
		}
	}

	query := fmt.Sprintf(`
		UPDATE items SET %s
		WHERE owner_id = $1 AND item_id = $2 AND status = $%d
	`, joinSet(set), idx)
	args = append(args, current)

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("apply status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		log.Warn().
			Str("owner_id", ownerID).
			Str("item_id", itemID).
			Str("expected", string(current)).
			Str("requested", string(requested)).
			Msg("status CAS missed")
		return "", model.ErrStatusConflict
	}
	return next, nil
}

func (r *postgresRepository) StuckInFlight(ctx context.Context, statuses []model.Status, olderThan time.Duration) ([]model.Item, error) {
	raw := make([]string, len(statuses))
	for i, s := range statuses {
		raw[i] = string(s)
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM items
		WHERE status = ANY($1) AND updated_at < now() - $2::interval
		ORDER BY updated_at ASC
		LIMIT 100
	`, itemColumns), raw, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("query stuck items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ========================= SCAN HELPERS =====================

func scanItem(row pgx.Row) (*model.Item, error) {
	var (
		item                                 model.Item
		imageRefs, metadata, cond, commercial []byte
	)
	err := row.Scan(
		&item.OwnerID, &item.ID, &item.Status,
		&imageRefs, &metadata, &cond, &commercial,
		&item.LastErrorKind, &item.LastErrorMessage,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(imageRefs) > 0 {
		if err := json.Unmarshal(imageRefs, &item.ImageRefs); err != nil {
			return nil, fmt.Errorf("decode image refs: %w", err)
		}
	}
	if len(metadata) > 0 {
		item.Metadata = &model.Metadata{}
		if err := json.Unmarshal(metadata, item.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if len(cond) > 0 {
		item.Condition = &model.Condition{}
		if err := json.Unmarshal(cond, item.Condition); err != nil {
			return nil, fmt.Errorf("decode condition: %w", err)
		}
	}
	if len(commercial) > 0 {
		item.Commercial = &model.Commercial{}
		if err := json.Unmarshal(commercial, item.Commercial); err != nil {
			return nil, fmt.Errorf("decode commercial: %w", err)
		}
	}
	return &item, nil
}

func joinSet(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
