package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/xid"

	"bookresale-backend/internal/domains/listing/model"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore - Constructor
func NewPostgresStore(pool *pgxpool.Pool) ListingStore {
	return &postgresStore{pool: pool}
}

const listingColumns = `id, owner_id, item_id, platform, external_id, url, price, currency, status, created_at, closed_at`

func (s *postgresStore) Create(ctx context.Context, listing *model.Listing) error {
	if listing.ID == "" {
		listing.ID = xid.New().String()
	}
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = time.Now().UTC()
	}
	if listing.Status == "" {
		listing.Status = model.ListingActive
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, listing.ID, listing.OwnerID, listing.ItemID, listing.Platform, listing.ExternalID,
		listing.URL, listing.Price, listing.Currency, listing.Status, listing.CreatedAt, listing.ClosedAt)
	if err != nil {
		return fmt.Errorf("create listing: %w", err)
	}
	return nil
}

func (s *postgresStore) ActiveByItem(ctx context.Context, ownerID, itemID string) ([]*model.Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE owner_id = $1 AND item_id = $2 AND status = $3
		ORDER BY created_at
	`, ownerID, itemID, model.ListingActive)
	if err != nil {
		return nil, fmt.Errorf("list active listings: %w", err)
	}
	defer rows.Close()

	var listings []*model.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, listing)
	}
	return listings, rows.Err()
}

func (s *postgresStore) FindActive(ctx context.Context, ownerID, itemID, platform string) (*model.Listing, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE owner_id = $1 AND item_id = $2 AND platform = $3 AND status = $4
		LIMIT 1
	`, ownerID, itemID, platform, model.ListingActive)

	listing, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return listing, err
}

func (s *postgresStore) Close(ctx context.Context, id string, status model.ListingStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE listings
		SET status = $2, closed_at = now()
		WHERE id = $1 AND status = $3
	`, id, status, model.ListingActive)
	if err != nil {
		return fmt.Errorf("close listing: %w", err)
	}
	return nil
}

func scanListing(row pgx.Row) (*model.Listing, error) {
	var listing model.Listing
	err := row.Scan(
		&listing.ID, &listing.OwnerID, &listing.ItemID, &listing.Platform, &listing.ExternalID,
		&listing.URL, &listing.Price, &listing.Currency, &listing.Status, &listing.CreatedAt, &listing.ClosedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	return &listing, nil
}
