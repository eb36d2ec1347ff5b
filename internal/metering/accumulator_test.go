package metering

import (
	"testing"

	"github.com/modelarena/modelarena/internal/provider"
)

func TestUsageAccumulator_ProviderUsageWins(t *testing.T) {
	acc := &UsageAccumulator{}
	acc.ObserveChunk("some streamed content that approximates badly")
	acc.RecordFinalUsage(provider.Usage{Tokens: 42})

	if usage := acc.Finalize(); usage.Tokens != 42 {
		t.Fatalf("provider-reported usage must win, got %d tokens", usage.Tokens)
	}
}

func TestUsageAccumulator_ApproximatesWithoutReport(t *testing.T) {
	acc := &UsageAccumulator{}
	// 40 runes across two chunks: 40 / 4 = 10 tokens.
	acc.ObserveChunk("aaaaaaaaaaaaaaaaaaaa")
	acc.ObserveChunk("bbbbbbbbbbbbbbbbbbbb")

	if usage := acc.Finalize(); usage.Tokens != 10 {
		t.Fatalf("expected 10 approximated tokens, got %d", usage.Tokens)
	}
}

func TestUsageAccumulator_ShortStreamMinimum(t *testing.T) {
	acc := &UsageAccumulator{}
	acc.ObserveChunk("hi")

	if usage := acc.Finalize(); usage.Tokens != 1 {
		t.Fatalf("expected one token for a tiny stream, got %d", usage.Tokens)
	}
}

func TestUsageAccumulator_FinalizeFreezes(t *testing.T) {
	acc := &UsageAccumulator{}
	acc.ObserveChunk("aaaaaaaa")
	first := acc.Finalize()

	// Late arrivals after finalization must not change the settled usage.
	acc.ObserveChunk("bbbbbbbbbbbbbbbb")
	acc.RecordFinalUsage(provider.Usage{Tokens: 999})

	second := acc.Finalize()
	if second != first {
		t.Fatalf("finalized snapshot changed: first=%+v second=%+v", first, second)
	}
}

func TestUsageAccumulator_EmptyStream(t *testing.T) {
	acc := &UsageAccumulator{}
	if usage := acc.Finalize(); usage.Tokens != 0 {
		t.Fatalf("expected zero tokens for an empty stream, got %d", usage.Tokens)
	}
}
