// Package joincode generates the short codes teams type to find a room and
// the anonymous session ids players resume with.
package joincode

import (
	"context"
	"errors"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

const (
	// Alphabet leaves out characters that are easy to misread on a big screen.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	Length   = 6

	// MaxAttempts bounds regeneration after a collision.
	MaxAttempts = 8
)

var ErrExhausted = errors.New("could not generate a unique join code")

// Checker reports whether a code is already taken.
type Checker interface {
	JoinCodeExists(ctx context.Context, code string) (bool, error)
}

type Generator struct {
	checker Checker
	gen     func() (string, error)
}

func New(checker Checker) *Generator {
	return &Generator{
		checker: checker,
		gen:     func() (string, error) { return gonanoid.Generate(Alphabet, Length) },
	}
}

// Next returns a code no existing room uses.
func (g *Generator) Next(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		code, err := g.gen()
		if err != nil {
			return "", fmt.Errorf("failed to generate join code: %w", err)
		}
		taken, err := g.checker.JoinCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check join code: %w", err)
		}
		if !taken {
			return code, nil
		}
		log.Warn().Str("code", code).Int("attempt", attempt).Msg("join code collision, regenerating")
	}
	return "", ErrExhausted
}

// Session returns a new anonymous player session id.
func Session() (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return id, nil
}
