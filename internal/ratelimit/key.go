package ratelimit

import "fmt"

// KeyForDecision builds a limiter key for the resolved scope.
func KeyForDecision(accountID string, decision Decision) string {
	if accountID == "" || decision.Limit <= 0 {
		return ""
	}
	switch decision.Scope {
	case ScopeModel:
		if decision.ModelID == "" {
			return ""
		}
		return fmt.Sprintf("a:%s:m:%s", accountID, decision.ModelID)
	case ScopeAccount:
		return fmt.Sprintf("a:%s", accountID)
	default:
		return ""
	}
}
