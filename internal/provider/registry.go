// Package provider abstracts generation backends behind a registry.
//
// The billing engine resolves model identifiers through the registry, so
// adding a provider never touches metering code.
package provider

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrUnsupportedModel indicates no generator is registered for a model ID.
var ErrUnsupportedModel = errors.New("provider: unsupported model")

// Usage reports the units a generation actually produced.
type Usage struct {
	Tokens int64 // Text tokens, zero for images.
	Images int64 // Images produced, zero for text.
}

// Result is a completed generation.
type Result struct {
	Content string // Full text, or an image URL/data URL.
	Usage   Usage
}

// ChunkFunc receives incremental content during a streamed generation.
// Returning an error aborts the stream.
type ChunkFunc func(content string) error

// Generator produces content for the models it serves.
type Generator interface {
	// Generate runs a non-streaming generation.
	Generate(ctx context.Context, modelID, prompt string) (Result, error)
	// GenerateStream yields chunks and returns the final result with
	// actual usage. Implementations that cannot stream may emit the
	// whole content as one chunk.
	GenerateStream(ctx context.Context, modelID, prompt string, onChunk ChunkFunc) (Result, error)
}

// Registry maps model identifiers to generators. It is populated once at
// startup and read concurrently afterwards.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

// Register binds a generator to a model identifier.
func (r *Registry) Register(modelID string, gen Generator) {
	modelID = strings.TrimSpace(modelID)
	if r == nil || modelID == "" || gen == nil {
		return
	}
	r.mu.Lock()
	r.generators[modelID] = gen
	r.mu.Unlock()
}

// Resolve returns the generator for a model identifier.
func (r *Registry) Resolve(modelID string) (Generator, error) {
	if r == nil {
		return nil, ErrUnsupportedModel
	}
	r.mu.RLock()
	gen, ok := r.generators[strings.TrimSpace(modelID)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnsupportedModel
	}
	return gen, nil
}

// Models lists registered model identifiers in stable order.
func (r *Registry) Models() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]string, 0, len(r.generators))
	for id := range r.generators {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
