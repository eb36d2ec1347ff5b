package provider

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MockGenerator simulates a provider for development and tests. Text
// models echo a canned reply; image models return a placeholder URL.
type MockGenerator struct {
	// Reply overrides the generated text when set.
	Reply string
	// Image marks this generator as an image backend.
	Image bool
}

// Generate implements Generator.
func (g *MockGenerator) Generate(ctx context.Context, modelID, prompt string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if g.Image {
		return Result{
			Content: fmt.Sprintf("https://images.invalid/%s/mock.png", modelID),
			Usage:   Usage{Images: 1},
		}, nil
	}
	content := g.Reply
	if content == "" {
		content = fmt.Sprintf("[%s] simulated response to: %s", modelID, prompt)
	}
	return Result{Content: content, Usage: Usage{Tokens: tokenEstimate(content)}}, nil
}

// GenerateStream implements Generator, emitting word-sized chunks.
func (g *MockGenerator) GenerateStream(ctx context.Context, modelID, prompt string, onChunk ChunkFunc) (Result, error) {
	result, errGen := g.Generate(ctx, modelID, prompt)
	if errGen != nil {
		return Result{}, errGen
	}
	if g.Image {
		if errChunk := onChunk(result.Content); errChunk != nil {
			return Result{}, errChunk
		}
		return result, nil
	}
	for _, word := range strings.SplitAfter(result.Content, " ") {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if word == "" {
			continue
		}
		if errChunk := onChunk(word); errChunk != nil {
			return Result{}, errChunk
		}
	}
	return result, nil
}

// tokenEstimate approximates the token count of generated text.
func tokenEstimate(content string) int64 {
	tokens := int64(utf8.RuneCountInString(content) / 4)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
