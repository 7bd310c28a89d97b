package model

import (
	"time"

	itemModel "bookresale-backend/internal/domains/item/model"
)

// Assessment is one full condition report, persisted append-only. The
// item record only carries the summary of the newest one; re-grading an
// item appends a new row rather than rewriting history.
type Assessment struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	ItemID  string `json:"item_id"`

	Grade           itemModel.Grade    `json:"grade"`
	Score           float64            `json:"score"`
	Confidence      float64            `json:"confidence"`
	ComponentScores map[string]float64 `json:"component_scores,omitempty"`
	Defects         []string           `json:"defects,omitempty"`
	Summary         string             `json:"summary,omitempty"`
	Reasoning       string             `json:"reasoning,omitempty"`

	ImagesUsed int       `json:"images_used"`
	CreatedAt  time.Time `json:"created_at"`
}

// ItemCondition projects the assessment down to the summary stored on
// the item record.
func (a *Assessment) ItemCondition() *itemModel.Condition {
	return &itemModel.Condition{
		Grade:           a.Grade,
		Score:           a.Score,
		Confidence:      a.Confidence,
		ComponentScores: a.ComponentScores,
		Defects:         a.Defects,
		Summary:         a.Summary,
		AssessedAt:      a.CreatedAt,
	}
}
