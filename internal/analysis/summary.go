package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/hyperengineering/mealclarify/internal/types"
)

// Summarize serializes a result into the opaque summary kept with a pending
// clarification and later handed back to Reanalyze.
func Summarize(result *types.AnalysisResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("summarize: nil result")
	}
	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return string(b), nil
}
