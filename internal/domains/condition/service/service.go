package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"bookresale-backend/internal/domains/condition/model"
	"bookresale-backend/internal/domains/condition/repository"
	itemModel "bookresale-backend/internal/domains/item/model"
	"bookresale-backend/internal/extract"
	"bookresale-backend/internal/infrastructure/llm"
	"bookresale-backend/internal/infrastructure/storage"
	"bookresale-backend/internal/pipeline"
	"bookresale-backend/pkg/retry"
)

const assessSystem = `You grade the physical condition of used books from photos. Inspect
every image for wear, damage, markings and missing parts, then respond with a single
JSON object:
{"grade": "Fine|Very Fine|Good|Fair|Poor", "overall_score": 0.0,
 "component_scores": {"cover": 0.0, "spine": 0.0, "pages": 0.0, "binding": 0.0},
 "defects": ["..."], "summary": "...", "reasoning": "...", "confidence": 0.0}
Scores run 0 to 10. confidence is between 0 and 1 and reflects how well the photos
support your grading. Be conservative: grade what you can see, not what you assume.`

type Service struct {
	store     repository.AssessmentStore
	completer llm.Completer
	images    storage.ImageStore
	extractor *extract.Extractor
	policy    retry.Policy
	maxDim    int
}

func NewService(store repository.AssessmentStore, completer llm.Completer, images storage.ImageStore, policy retry.Policy, maxDim int) *Service {
	return &Service{
		store:     store,
		completer: completer,
		images:    images,
		extractor: extract.New(extract.Options{
			WrapperKeys: []string{"condition_assessment", "assessment", "condition", "data"},
			ShapeKeys:   []string{"grade", "overall_score", "defects"},
		}),
		policy: policy,
		maxDim: maxDim,
	}
}

type assessmentWire struct {
	Grade           string             `json:"grade"`
	OverallScore    float64            `json:"overall_score"`
	Score           float64            `json:"score"`
	ComponentScores map[string]float64 `json:"component_scores"`
	Defects         []string           `json:"defects"`
	Summary         string             `json:"summary"`
	Reasoning       string             `json:"reasoning"`
}

// Assess grades the item from its photos and appends the full report.
// Metadata is optional context; grading works from the images alone.
func (s *Service) Assess(ctx context.Context, ownerID, itemID string, imageRefs []string, meta *itemModel.Metadata) (*model.Assessment, error) {
	images, err := s.loadImages(ctx, imageRefs)
	if err != nil {
		return nil, err
	}

	raw, err := retry.DoValue(ctx, s.policy, "condition assessment", func(ctx context.Context) (string, error) {
		return s.completer.Complete(ctx, llm.Request{
			System: assessSystem,
			Prompt: buildAssessPrompt(meta, len(images)),
			Images: images,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("assess condition: %w", err)
	}

	res := s.extractor.Extract(raw)
	if !res.Found {
		return nil, pipeline.Fatalf("CONDITION_NO_DATA", "assessment returned no structured data: %s", res.Excerpt)
	}

	var wire assessmentWire
	if err := extract.Decode(res.Payload, &wire); err != nil {
		return nil, pipeline.Fatal("CONDITION_BAD_PAYLOAD", err)
	}

	score := wire.OverallScore
	if score == 0 {
		score = wire.Score
	}
	assessment := &model.Assessment{
		OwnerID:         ownerID,
		ItemID:          itemID,
		Grade:           itemModel.NormalizeGrade(wire.Grade),
		Score:           score,
		Confidence:      res.Confidence,
		ComponentScores: wire.ComponentScores,
		Defects:         wire.Defects,
		Summary:         wire.Summary,
		Reasoning:       wire.Reasoning,
		ImagesUsed:      len(images),
	}
	if assessment.Confidence == 0 {
		log.Warn().
			Str("owner_id", ownerID).
			Str("item_id", itemID).
			Str("grade", string(assessment.Grade)).
			Msg("assessment carries zero confidence, grade is suspect")
	}

	if err := s.store.Append(ctx, assessment); err != nil {
		return nil, fmt.Errorf("persist assessment: %w", err)
	}
	return assessment, nil
}

// History returns the item's past reports, newest first.
func (s *Service) History(ctx context.Context, ownerID, itemID string) ([]*model.Assessment, error) {
	return s.store.ListByItem(ctx, ownerID, itemID)
}

func (s *Service) loadImages(ctx context.Context, imageRefs []string) ([][]byte, error) {
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
		return nil, pipeline.Fatalf("CONDITION_NO_IMAGES", "no usable images among %d refs", len(imageRefs))
	}
	return images, nil
}

func buildAssessPrompt(meta *itemModel.Metadata, imageCount int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Grade this used book's condition from the %d attached photos.\n", imageCount)
	if meta != nil {
		if meta.Title != "" {
			fmt.Fprintf(&sb, "Title: %s\n", meta.Title)
		}
		if len(meta.Authors) > 0 {
			fmt.Fprintf(&sb, "Authors: %s\n", strings.Join(meta.Authors, ", "))
		}
		if meta.PublicationYear != 0 {
			fmt.Fprintf(&sb, "Published: %d\n", meta.PublicationYear)
		}
	}
	return sb.String()
}
