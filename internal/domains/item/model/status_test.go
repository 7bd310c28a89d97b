package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allStatuses() []Status {
	return []Status{
		StatusPendingAnalysis, StatusIngesting, StatusIngested,
		StatusNeedsReview, StatusAnalysisFailed, StatusProcessingCondition,
		StatusConditionAssessed, StatusConditionFailed, StatusPricingFailed,
		StatusPriced, StatusListed, StatusSold, StatusDelisted, StatusFailed,
	}
}

func TestNextAllowsTableTransitions(t *testing.T) {
	for current, targets := range transitions {
		for _, requested := range targets {
			got, err := Next(current, requested)
			require.NoError(t, err, "%s -> %s", current, requested)
			assert.Equal(t, requested, got)
		}
	}
}

func TestNextSameStatusIsNoOp(t *testing.T) {
	for _, s := range allStatuses() {
		got, err := Next(s, s)
		require.NoError(t, err, s)
		assert.Equal(t, s, got)
	}
}

// Every pair outside the table must be rejected, except the documented
// priced -> condition_assessed coercion.
func TestNextRejectsEverythingOutsideTable(t *testing.T) {
	for _, current := range allStatuses() {
		allowed := map[Status]bool{current: true}
		for _, s := range transitions[current] {
			allowed[s] = true
		}
		for _, requested := range allStatuses() {
			if allowed[requested] {
				continue
			}
			got, err := Next(current, requested)
			if current == StatusPriced && requested == StatusConditionAssessed {
				require.NoError(t, err)
				assert.Equal(t, StatusPriced, got, "stale retrigger re-asserts priced")
				continue
			}
			require.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s must reject", current, requested)
		}
	}
}

func TestNextTerminalStatuses(t *testing.T) {
	for _, terminal := range []Status{StatusSold, StatusDelisted} {
		for _, requested := range allStatuses() {
			if requested == terminal {
				continue
			}
			_, err := Next(terminal, requested)
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", terminal, requested)
		}
	}
}

func TestNextFailsOpenOnUnknownCurrent(t *testing.T) {
	got, err := Next(Status("legacy_imported"), StatusIngesting)
	require.NoError(t, err)
	assert.Equal(t, StatusIngesting, got)
}

func TestNextRejectsUnknownRequested(t *testing.T) {
	_, err := Next(StatusIngested, Status("made_up"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestKnownStatus(t *testing.T) {
	for _, s := range allStatuses() {
		assert.True(t, KnownStatus(s), s)
	}
	assert.False(t, KnownStatus(Status("legacy_imported")))
}

func TestNormalizeGrade(t *testing.T) {
	tests := []struct {
		raw  string
		want Grade
	}{
		{"Fine", GradeFine},
		{"like new", GradeFine},
		{"VERY FINE", GradeVeryFine},
		{"very_good", GradeVeryFine},
		{"excellent", GradeVeryFine},
		{"Good", GradeGood},
		{"acceptable", GradeFair},
		{"damaged", GradePoor},
		{"??", GradeGood},
		{"", GradeGood},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeGrade(tt.raw), tt.raw)
	}
}

func TestParseStrategy(t *testing.T) {
	assert.Equal(t, StrategyAggressive, ParseStrategy("Aggressive"))
	assert.Equal(t, StrategyPatient, ParseStrategy("patient"))
	assert.Equal(t, StrategyLiquidation, ParseStrategy("liquidation"))
	assert.Equal(t, StrategyBalanced, ParseStrategy("balanced"))
	assert.Equal(t, StrategyBalanced, ParseStrategy("whatever"))
}
