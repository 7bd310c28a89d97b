package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	itemModel "bookresale-backend/internal/domains/item/model"
	"bookresale-backend/internal/domains/listing/model"
	"bookresale-backend/internal/domains/listing/platform"
	"bookresale-backend/internal/domains/listing/repository"
	"bookresale-backend/internal/extract"
	"bookresale-backend/internal/infrastructure/llm"
	"bookresale-backend/internal/pipeline"
	"bookresale-backend/pkg/retry"
)

const copywriterSystem = `You write short marketplace listings for used books. Given the
book's metadata and graded condition, respond with a single JSON object:
{"title": "...", "description": "..."}
The title is at most 80 characters. The description is 2-4 honest sentences that
mention the edition and the condition, including visible defects. No emoji, no
superlatives you cannot back up.`

// Service creates and closes marketplace listings for an item.
type Service struct {
	store     repository.ListingStore
	client    platform.Client
	completer llm.Completer
	extractor *extract.Extractor
	policy    retry.Policy
	platforms []string
}

func NewService(store repository.ListingStore, client platform.Client, completer llm.Completer, policy retry.Policy, platforms []string) *Service {
	return &Service{
		store:     store,
		client:    client,
		completer: completer,
		extractor: extract.New(extract.Options{
			WrapperKeys: []string{"listing", "listing_copy", "data"},
			ShapeKeys:   []string{"title", "description"},
		}),
		policy:    policy,
		platforms: platforms,
	}
}

type copyWire struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ListItem opens a listing on each requested platform. Platforms with
// an active listing already are skipped, so a redelivered message only
// fills the gaps.
func (s *Service) ListItem(ctx context.Context, item *itemModel.Item, platforms []string) ([]*model.Listing, error) {
	if item.Metadata == nil || item.Condition == nil || item.Commercial == nil {
		return nil, pipeline.Fatalf("LISTING_NOT_READY", "item %s lacks metadata, condition or pricing", item.ID)
	}
	if len(platforms) == 0 {
		platforms = s.platforms
	}
	if len(platforms) == 0 {
		return nil, pipeline.Fatalf("LISTING_NO_PLATFORMS", "no platforms configured for item %s", item.ID)
	}

	title, description := s.composeCopy(ctx, item)

	var created []*model.Listing
	var firstErr error
	for _, name := range platforms {
		existing, err := s.store.FindActive(ctx, item.OwnerID, item.ID, name)
		if err != nil {
			return created, fmt.Errorf("check existing listing on %s: %w", name, err)
		}
		if existing != nil {
			log.Info().
				Str("item_id", item.ID).
				Str("platform", name).
				Str("listing_id", existing.ExternalID).
				Msg("listing already active, skipping platform")
			continue
		}

		result, err := s.client.CreateListing(ctx, name, platform.CreateRequest{
			ItemID:      item.ID,
			Title:       title,
			Description: description,
			Condition:   string(item.Condition.Grade),
			Price:       item.Commercial.RecommendedPrice,
			Currency:    item.Commercial.Currency,
			ImageRefs:   item.ImageRefs,
		})
		if err != nil {
			log.Error().Err(err).Str("item_id", item.ID).Str("platform", name).Msg("listing creation failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("list on %s: %w", name, err)
			}
			continue
		}

		listing := &model.Listing{
			OwnerID:    item.OwnerID,
			ItemID:     item.ID,
			Platform:   name,
			ExternalID: result.ExternalID,
			URL:        result.URL,
			Price:      item.Commercial.RecommendedPrice,
			Currency:   item.Commercial.Currency,
			Status:     model.ListingActive,
		}
		if err := s.store.Create(ctx, listing); err != nil {
			// The marketplace listing exists but the record write
			// failed; redelivery would double-list, so take it down.
			if delErr := s.client.DeleteListing(ctx, name, result.ExternalID); delErr != nil {
				log.Error().Err(delErr).
					Str("platform", name).
					Str("listing_id", result.ExternalID).
					Msg("orphaned marketplace listing, manual cleanup needed")
			}
			return created, fmt.Errorf("record listing on %s: %w", name, err)
		}
		created = append(created, listing)
	}

	if firstErr != nil {
		return created, firstErr
	}
	return created, nil
}

// RecordSale finalizes the sold platform's listing record.
func (s *Service) RecordSale(ctx context.Context, ownerID, itemID, platformName, externalID string) error {
	listing, err := s.store.FindActive(ctx, ownerID, itemID, platformName)
	if err != nil {
		return fmt.Errorf("find sold listing: %w", err)
	}
	if listing == nil {
		// Already finalized, or the sale beat the listing record in.
		log.Warn().
			Str("item_id", itemID).
			Str("platform", platformName).
			Str("listing_id", externalID).
			Msg("sale reported for no active listing")
		return nil
	}
	if externalID != "" && listing.ExternalID != externalID {
		log.Warn().
			Str("item_id", itemID).
			Str("platform", platformName).
			Str("expected", listing.ExternalID).
			Str("reported", externalID).
			Msg("sale reports a different listing id than recorded")
	}
	return s.store.Close(ctx, listing.ID, model.ListingSold)
}

// Delist takes down the item's active listings, skipping
// exceptPlatform (the one that reported the sale). Returns how many
// listings were closed.
func (s *Service) Delist(ctx context.Context, ownerID, itemID, exceptPlatform string) (int, error) {
	active, err := s.store.ActiveByItem(ctx, ownerID, itemID)
	if err != nil {
		return 0, fmt.Errorf("list active listings: %w", err)
	}

	closed := 0
	var firstErr error
	for _, listing := range active {
		if listing.Platform == exceptPlatform {
			continue
		}
		if err := s.client.DeleteListing(ctx, listing.Platform, listing.ExternalID); err != nil {
			log.Error().Err(err).
				Str("item_id", itemID).
				Str("platform", listing.Platform).
				Str("listing_id", listing.ExternalID).
				Msg("takedown failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("delist from %s: %w", listing.Platform, err)
			}
			continue
		}
		if err := s.store.Close(ctx, listing.ID, model.ListingClosed); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		closed++
	}
	return closed, firstErr
}

// ActiveListings returns the item's currently active listings.
func (s *Service) ActiveListings(ctx context.Context, ownerID, itemID string) ([]*model.Listing, error) {
	return s.store.ActiveByItem(ctx, ownerID, itemID)
}

// composeCopy writes the listing title and description. Copywriting is
// best effort; on failure the listing falls back to a plain template
// rather than blocking the pipeline.
func (s *Service) composeCopy(ctx context.Context, item *itemModel.Item) (string, string) {
	raw, err := retry.DoValue(ctx, s.policy, "listing copy", func(ctx context.Context) (string, error) {
		return s.completer.Complete(ctx, llm.Request{
			System: copywriterSystem,
			Prompt: buildCopyPrompt(item),
		})
	})
	if err == nil {
		res := s.extractor.Extract(raw)
		if res.Found {
			var wire copyWire
			if decodeErr := extract.Decode(res.Payload, &wire); decodeErr == nil && wire.Description != "" {
				title := wire.Title
				if title == "" {
					title = fallbackTitle(item)
				}
				return truncate(title, 80), wire.Description
			}
		}
	}

	log.Warn().Err(err).Str("item_id", item.ID).Msg("copywriting failed, using template description")
	return truncate(fallbackTitle(item), 80), fallbackDescription(item)
}

func fallbackTitle(item *itemModel.Item) string {
	title := item.Metadata.Title
	if len(item.Metadata.Authors) > 0 {
		title = fmt.Sprintf("%s - %s", title, item.Metadata.Authors[0])
	}
	return title
}

func fallbackDescription(item *itemModel.Item) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Used copy of %q", item.Metadata.Title)
	if item.Metadata.PublicationYear != 0 {
		fmt.Fprintf(&sb, " (%d)", item.Metadata.PublicationYear)
	}
	fmt.Fprintf(&sb, " in %s condition.", strings.ToLower(string(item.Condition.Grade)))
	if len(item.Condition.Defects) > 0 {
		fmt.Fprintf(&sb, " Noted: %s.", strings.Join(item.Condition.Defects, ", "))
	}
	return sb.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func buildCopyPrompt(item *itemModel.Item) string {
	var sb strings.Builder
	sb.WriteString("Write the listing for this book:\n")
	fmt.Fprintf(&sb, "Title: %s\n", item.Metadata.Title)
	if len(item.Metadata.Authors) > 0 {
		fmt.Fprintf(&sb, "Authors: %s\n", strings.Join(item.Metadata.Authors, ", "))
	}
	if item.Metadata.Edition != "" {
		fmt.Fprintf(&sb, "Edition: %s\n", item.Metadata.Edition)
	}
	if item.Metadata.PublicationYear != 0 {
		fmt.Fprintf(&sb, "Published: %d\n", item.Metadata.PublicationYear)
	}
	fmt.Fprintf(&sb, "Condition: %s (score %.1f/10)\n", item.Condition.Grade, item.Condition.Score)
	if len(item.Condition.Defects) > 0 {
		fmt.Fprintf(&sb, "Defects: %s\n", strings.Join(item.Condition.Defects, "; "))
	}
	if item.Condition.Summary != "" {
		fmt.Fprintf(&sb, "Assessor summary: %s\n", item.Condition.Summary)
	}
	return sb.String()
}
