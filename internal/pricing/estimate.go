package pricing

import "math"

// Estimation policy constants.
const (
	// estimateCharsPerToken approximates input tokens from prompt length.
	estimateCharsPerToken = 4
	// estimateOutputMultiplier scales expected output from input tokens.
	estimateOutputMultiplier = 1.5
	// minEstimatedTokens bounds very short prompts.
	minEstimatedTokens = 100
)

// EstimateTokens predicts the total token count for a text prompt.
//
// The estimate feeds the advisory preflight check only; settlement always
// recomputes cost from actual usage.
func EstimateTokens(prompt string) int64 {
	inputTokens := int64(math.Ceil(float64(len([]rune(prompt))) / estimateCharsPerToken))
	outputTokens := int64(math.Ceil(float64(inputTokens) * estimateOutputMultiplier))
	total := inputTokens + outputTokens
	if total < minEstimatedTokens {
		total = minEstimatedTokens
	}
	return total
}

// EstimateTextCost returns the preflight diamond estimate for a prompt.
func EstimateTextCost(modelID, prompt string) int64 {
	return CostForText(modelID, EstimateTokens(prompt))
}
