package model

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Status is the item lifecycle state. The set is closed; transitions
// are validated by Next.
type Status string

const (
	StatusPendingAnalysis     Status = "pending_analysis"
	StatusIngesting           Status = "ingesting"
	StatusIngested            Status = "ingested"
	StatusNeedsReview         Status = "needs_review"
	StatusAnalysisFailed      Status = "analysis_failed"
	StatusProcessingCondition Status = "processing_condition"
	StatusConditionAssessed   Status = "condition_assessed"
	StatusConditionFailed     Status = "condition_failed"
	StatusPricingFailed       Status = "pricing_failed"
	StatusPriced              Status = "priced"
	StatusListed              Status = "listed"
	StatusSold                Status = "sold"
	StatusDelisted            Status = "delisted"
	StatusFailed              Status = "failed"
)

// transitions lists the only legal outgoing edges per status. Statuses
// absent from the map (sold, delisted) are terminal.
var transitions = map[Status][]Status{
	StatusPendingAnalysis:     {StatusIngesting, StatusFailed},
	StatusIngesting:           {StatusIngested, StatusNeedsReview, StatusAnalysisFailed},
	StatusIngested:            {StatusProcessingCondition, StatusConditionAssessed, StatusConditionFailed, StatusFailed},
	StatusNeedsReview:         {StatusIngesting, StatusFailed},
	StatusAnalysisFailed:      {StatusIngesting, StatusFailed, StatusConditionAssessed},
	StatusProcessingCondition: {StatusConditionAssessed, StatusConditionFailed, StatusIngested, StatusFailed},
	StatusConditionAssessed:   {StatusPriced, StatusListed, StatusProcessingCondition, StatusFailed, StatusPricingFailed},
	StatusConditionFailed:     {StatusProcessingCondition, StatusIngested, StatusFailed, StatusPricingFailed},
	StatusPricingFailed:       {StatusProcessingCondition, StatusIngested, StatusFailed, StatusConditionFailed, StatusConditionAssessed},
	StatusPriced:              {StatusListed, StatusConditionAssessed, StatusFailed, StatusPricingFailed},
	StatusListed:              {StatusSold, StatusDelisted},
	StatusSold:                {},
	StatusDelisted:            {},
	StatusFailed:              {StatusIngesting, StatusPendingAnalysis},
}

// KnownStatus reports whether s is a member of the closed status set.
func KnownStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// Next decides the status an item moves to when a stage requests a
// transition from current to requested.
//
//   - requested == current is a no-op: the caller writes its patch
//     fields and the status stays put.
//   - priced -> condition_assessed is coerced to a no-op re-asserting
//     priced: a slow duplicate condition retrigger must not regress an
//     already-priced item.
//   - an unknown current status fails open and admits the transition,
//     logged distinctly so drift is observable instead of deadlocking
//     the record.
//   - anything else outside the table is rejected with
//     ErrInvalidTransition.
func Next(current, requested Status) (Status, error) {
	if requested == current {
		return current, nil
	}
	if current == StatusPriced && requested == StatusConditionAssessed {
		log.Warn().
			Str("current", string(current)).
			Str("requested", string(requested)).
			Msg("stale condition retrigger coerced to no-op")
		return StatusPriced, nil
	}
	allowed, known := transitions[current]
	if !known {
		log.Warn().
			Str("event", "status_fail_open").
			Str("current", string(current)).
			Str("requested", string(requested)).
			Msg("unknown current status, admitting transition")
		return requested, nil
	}
	for _, s := range allowed {
		if s == requested {
			return requested, nil
		}
	}
	return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, requested)
}
