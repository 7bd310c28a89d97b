package extract

import (
	"encoding/json"
	"fmt"
)

// Decode maps a loose payload onto a typed struct via its json tags.
// Unknown keys are dropped, missing keys leave zero values; type
// mismatches on known keys are reported.
func Decode(payload map[string]any, dest any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
