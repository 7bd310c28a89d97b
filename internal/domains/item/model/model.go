package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is one book moving through the resale pipeline. Identity is
// (OwnerID, ID); every query is owner-scoped. Status changes go
// through the transition rules in status.go only.
type Item struct {
	OwnerID   string      `json:"ownerId" db:"owner_id"`
	ID        string      `json:"itemId" db:"item_id"`
	Status    Status      `json:"status" db:"status"`
	ImageRefs []string    `json:"imageRefs" db:"image_refs"`
	Metadata  *Metadata   `json:"metadata,omitempty" db:"metadata"`
	Condition *Condition  `json:"condition,omitempty" db:"condition"`
	Commercial *Commercial `json:"commercial,omitempty" db:"commercial"`

	LastErrorKind    string `json:"lastErrorKind,omitempty" db:"last_error_kind"`
	LastErrorMessage string `json:"lastErrorMessage,omitempty" db:"last_error_message"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Metadata holds the bibliographic attributes produced by the
// identification stage.
type Metadata struct {
	Title           string   `json:"title,omitempty"`
	Authors         []string `json:"authors,omitempty"`
	ISBN            string   `json:"isbn,omitempty"`
	Publisher       string   `json:"publisher,omitempty"`
	PublicationYear int      `json:"publication_year,omitempty"`
	Edition         string   `json:"edition,omitempty"`
	Language        string   `json:"language,omitempty"`
	PageCount       int      `json:"page_count,omitempty"`
	Genre           string   `json:"genre,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	CoverURL        string   `json:"cover_url,omitempty"`
	Description     string   `json:"description,omitempty"`
	Confidence      float64  `json:"confidence_score,omitempty"`
	SourcesUsed     []string `json:"sources_used,omitempty"`
}

// Condition is the summary written back onto the item after a
// condition assessment. The full report is appended separately as an
// immutable sub-record.
type Condition struct {
	Grade           Grade              `json:"grade"`
	Score           float64            `json:"score"`
	Confidence      float64            `json:"confidence"`
	ComponentScores map[string]float64 `json:"component_scores,omitempty"`
	Defects         []string           `json:"defects,omitempty"`
	Summary         string             `json:"summary,omitempty"`
	AssessedAt      time.Time          `json:"assessed_at"`
}

// Commercial carries the latest pricing decision. History lives in the
// append-only price_history table.
type Commercial struct {
	RecommendedPrice decimal.Decimal `json:"recommended_price"`
	FloorPrice       decimal.Decimal `json:"floor_price"`
	Currency         string          `json:"currency"`
	Strategy         Strategy        `json:"strategy"`
	Confidence       float64         `json:"confidence"`
	PricedAt         time.Time       `json:"priced_at"`
}

// Patch is the set of item fields a stage may write alongside a status
// change. Nil fields are left untouched.
type Patch struct {
	ImageRefs        []string
	Metadata         *Metadata
	Condition        *Condition
	Commercial       *Commercial
	LastErrorKind    *string
	LastErrorMessage *string
}

// FailurePatch builds the diagnostic patch written when a stage fails
// permanently.
func FailurePatch(kind, message string) *Patch {
	return &Patch{
		LastErrorKind:    &kind,
		LastErrorMessage: &message,
	}
}

// Grade is the closed condition ladder used across assessment and
// pricing.
type Grade string

const (
	GradeFine     Grade = "Fine"
	GradeVeryFine Grade = "Very Fine"
	GradeGood     Grade = "Good"
	GradeFair     Grade = "Fair"
	GradePoor     Grade = "Poor"
)

// NormalizeGrade maps free-text model output onto the closed grade
// set. Unrecognized text falls back to Good, which callers must treat
// as suspect when the assessment confidence is zero.
func NormalizeGrade(raw string) Grade {
	switch normalizeToken(raw) {
	case "fine", "like new", "likenew", "mint", "as new":
		return GradeFine
	case "very fine", "veryfine", "very good", "verygood", "excellent":
		return GradeVeryFine
	case "good":
		return GradeGood
	case "fair", "acceptable", "worn":
		return GradeFair
	case "poor", "bad", "damaged":
		return GradePoor
	default:
		return GradeGood
	}
}

func normalizeToken(raw string) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 'A' && c <= 'Z':
			out = append(out, c+('a'-'A'))
		case c == '_' || c == '-':
			out = append(out, ' ')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// Strategy is the pricing posture chosen by the strategist.
type Strategy string

const (
	StrategyAggressive  Strategy = "aggressive"
	StrategyBalanced    Strategy = "balanced"
	StrategyPatient     Strategy = "patient"
	StrategyLiquidation Strategy = "liquidation"
)

// ParseStrategy validates a strategist answer, defaulting to balanced.
func ParseStrategy(raw string) Strategy {
	switch Strategy(normalizeToken(raw)) {
	case StrategyAggressive:
		return StrategyAggressive
	case StrategyPatient:
		return StrategyPatient
	case StrategyLiquidation:
		return StrategyLiquidation
	default:
		return StrategyBalanced
	}
}
