package metering

import (
	"sync"

	"github.com/modelarena/modelarena/internal/provider"
)

// UsageAccumulator tracks usage across a streamed generation without
// billing mid-stream. It is finalized exactly once, when the stream
// completes or aborts, and the finalized snapshot feeds settlement.
type UsageAccumulator struct {
	mu        sync.Mutex
	chunks    int64
	runes     int64
	reported  provider.Usage
	haveFinal bool
	finalized bool
}

// ObserveChunk records streamed content before the provider reports
// authoritative usage.
func (a *UsageAccumulator) ObserveChunk(content string) {
	a.mu.Lock()
	if !a.finalized {
		a.chunks++
		a.runes += int64(len([]rune(content)))
	}
	a.mu.Unlock()
}

// RecordFinalUsage stores the provider-reported usage total.
func (a *UsageAccumulator) RecordFinalUsage(u provider.Usage) {
	a.mu.Lock()
	if !a.finalized {
		a.reported = u
		a.haveFinal = true
	}
	a.mu.Unlock()
}

// Finalize freezes the accumulator and returns the usage to settle.
//
// When the provider reported a usage total that wins; otherwise tokens
// are approximated from the streamed content. Later calls return the
// frozen snapshot without mutating it.
func (a *UsageAccumulator) Finalize() provider.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finalized = true
	if a.haveFinal {
		return a.reported
	}
	tokens := a.runes / 4
	if tokens < 1 && a.chunks > 0 {
		tokens = 1
	}
	return provider.Usage{Tokens: tokens}
}
