package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	itemModel "bookresale-backend/internal/domains/item/model"
	"bookresale-backend/internal/extract"
	"bookresale-backend/internal/infrastructure/llm"
	"bookresale-backend/internal/infrastructure/storage"
	"bookresale-backend/internal/pipeline"
	"bookresale-backend/pkg/retry"
)

// ReviewThreshold is the identification confidence below which an item
// needs a human look before it continues through the pipeline.
const ReviewThreshold = 0.7

const maxImages = 10

const identifySystem = `You identify used books from photos. Examine the images and return
a single JSON object with the book's bibliographic data:
{"title": "...", "authors": ["..."], "isbn_13": "...", "isbn_10": "...",
 "publisher": "...", "publication_year": 0, "edition": "...", "language": "...",
 "page_count": 0, "genre": "...", "categories": ["..."], "description": "...",
 "confidence": 0.0}
Use null for fields you cannot determine. confidence is your overall identification
confidence between 0 and 1. If the photos do not show a book, return {"title": null, "confidence": 0}.`

// Identification is what the stage gets back: metadata plus the
// model's confidence. Metadata nil means the model found no book.
type Identification struct {
	Metadata   *itemModel.Metadata
	Confidence float64
}

type Service struct {
	completer llm.Completer
	images    storage.ImageStore
	extractor *extract.Extractor
	policy    retry.Policy
	maxDim    int
}

func NewService(completer llm.Completer, images storage.ImageStore, policy retry.Policy, maxDim int) *Service {
	return &Service{
		completer: completer,
		images:    images,
		extractor: extract.New(extract.Options{
			WrapperKeys: []string{"book_data", "book", "book_identification", "data", "metadata"},
			ShapeKeys:   []string{"title", "isbn_13", "authors"},
		}),
		policy: policy,
		maxDim: maxDim,
	}
}

// metadataWire mirrors the identification answer. Both ISBN forms are
// accepted; the 13-digit one wins.
type metadataWire struct {
	itemModel.Metadata
	ISBN13 string `json:"isbn_13"`
	ISBN10 string `json:"isbn_10"`
}

// Identify runs the photo identification. A negative answer (no book
// recognized) returns a nil-metadata Identification, not an error.
func (s *Service) Identify(ctx context.Context, ownerID, itemID string, imageRefs []string) (*Identification, error) {
	images, err := s.loadImages(ctx, imageRefs)
	if err != nil {
		return nil, err
	}

	raw, err := retry.DoValue(ctx, s.policy, "book identification", func(ctx context.Context) (string, error) {
		return s.completer.Complete(ctx, llm.Request{
			System: identifySystem,
			Prompt: "Identify this book from the attached photos.",
			Images: images,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("identify book: %w", err)
	}

	res := s.extractor.Extract(raw)
	if !res.Found {
		log.Warn().
			Str("owner_id", ownerID).
			Str("item_id", itemID).
			Str("excerpt", res.Excerpt).
			Msg("identification returned no structured data")
		return &Identification{}, nil
	}

	var wire metadataWire
	if err := extract.Decode(res.Payload, &wire); err != nil {
		return nil, pipeline.Fatal("INGESTION_BAD_PAYLOAD", err)
	}

	meta := wire.Metadata
	meta.ISBN = wire.ISBN13
	if meta.ISBN == "" {
		meta.ISBN = wire.ISBN10
	}
	if meta.Title == "" {
		return &Identification{}, nil
	}
	meta.Confidence = res.Confidence

	return &Identification{Metadata: &meta, Confidence: res.Confidence}, nil
}

// loadImages pulls and downscales the item photos. Individual broken
// images are skipped; zero usable images is permanent.
func (s *Service) loadImages(ctx context.Context, imageRefs []string) ([][]byte, error) {
	if len(imageRefs) > maxImages {
		imageRefs = imageRefs[:maxImages]
	}

	images := make([][]byte, 0, len(imageRefs))
	for _, ref := range imageRefs {
		data, err := s.images.Download(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", ref, err)
		}
		scaled, _, err := storage.Downscale(data, s.maxDim)
		if err != nil {
			log.Warn().Err(err).Str("ref", ref).Msg("skipping undecodable image")
			continue
		}
		images = append(images, scaled)
	}
	if len(images) == 0 {
		return nil, pipeline.Fatalf("INGESTION_NO_IMAGES", "no usable images among %d refs", len(imageRefs))
	}
	return images, nil
}

// StatusFor maps identification confidence onto the post-ingestion
// status.
func StatusFor(confidence float64) itemModel.Status {
	if confidence >= ReviewThreshold {
		return itemModel.StatusIngested
	}
	return itemModel.StatusNeedsReview
}
