// Package content loads question packs and turns them into board rows.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/buzzer/go/internal/models"
)

var ErrInvalid = errors.New("invalid content pack")

// Pack is the import format: up to two board rounds and an optional final.
type Pack struct {
	Title  string  `yaml:"title" json:"title"`
	Rounds []Round `yaml:"rounds" json:"rounds" validate:"required,min=1,max=2,dive"`
	Final  *Final  `yaml:"final,omitempty" json:"final,omitempty"`
}

type Round struct {
	Number     int        `yaml:"round" json:"round" validate:"required,oneof=1 2"`
	Categories []Category `yaml:"categories" json:"categories" validate:"required,min=1,dive"`
}

type Category struct {
	Name      string     `yaml:"name" json:"name" validate:"required"`
	Questions []Question `yaml:"questions" json:"questions" validate:"required,min=1,dive"`
}

type Question struct {
	Clue   string `yaml:"clue" json:"clue" validate:"required"`
	Answer string `yaml:"answer" json:"answer" validate:"required"`
	Points int    `yaml:"points" json:"points" validate:"required,gt=0"`
}

type Final struct {
	Category string `yaml:"category" json:"category" validate:"required"`
	Clue     string `yaml:"clue" json:"clue" validate:"required"`
	Answer   string `yaml:"answer" json:"answer" validate:"required"`
}

var validate = validator.New()

// Parse decodes and validates a YAML pack.
func Parse(r io.Reader) (*Pack, error) {
	var p Pack
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads a pack from a file.
func Load(path string) (*Pack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open content pack: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Validate checks field rules and that every category in a round has the
// same number of questions.
func (p *Pack) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	seen := make(map[int]bool)
	for _, r := range p.Rounds {
		if seen[r.Number] {
			return fmt.Errorf("%w: round %d listed twice", ErrInvalid, r.Number)
		}
		seen[r.Number] = true

		size := len(r.Categories[0].Questions)
		for _, c := range r.Categories {
			if len(c.Questions) != size {
				return fmt.Errorf("%w: round %d category %q has %d questions, want %d",
					ErrInvalid, r.Number, c.Name, len(c.Questions), size)
			}
		}
	}
	if !seen[models.RoundOne] {
		return fmt.Errorf("%w: round 1 is required", ErrInvalid)
	}
	return nil
}

// Rows converts the pack into category and question rows with fresh ids.
func (p *Pack) Rows() []models.CategoryWithQuestions {
	var out []models.CategoryWithQuestions
	for _, r := range p.Rounds {
		for ci, c := range r.Categories {
			cat := models.Category{ID: uuid.New(), Round: r.Number, Name: c.Name, Position: ci}
			cwq := models.CategoryWithQuestions{Category: cat}
			for qi, q := range c.Questions {
				points := q.Points
				cwq.Questions = append(cwq.Questions, models.Question{
					ID:         uuid.New(),
					CategoryID: cat.ID,
					Clue:       q.Clue,
					Answer:     q.Answer,
					PointValue: &points,
					Position:   qi,
				})
			}
			out = append(out, cwq)
		}
	}
	if p.Final != nil {
		cat := models.Category{ID: uuid.New(), Round: models.RoundFinal, Name: p.Final.Category}
		out = append(out, models.CategoryWithQuestions{
			Category: cat,
			Questions: []models.Question{{
				ID:         uuid.New(),
				CategoryID: cat.ID,
				Clue:       p.Final.Clue,
				Answer:     p.Final.Answer,
			}},
		})
	}
	return out
}

// QuestionCount returns how many board questions round n holds.
func (p *Pack) QuestionCount(n int) int {
	total := 0
	for _, r := range p.Rounds {
		if r.Number == n {
			for _, c := range r.Categories {
				total += len(c.Questions)
			}
		}
	}
	return total
}

// Replacer is the store write that swaps a room's content.
type Replacer interface {
	ReplaceContent(ctx context.Context, roomID uuid.UUID, content []models.CategoryWithQuestions) error
}

// Import validates p and only then replaces the room's content.
func Import(ctx context.Context, st Replacer, roomID uuid.UUID, p *Pack) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := st.ReplaceContent(ctx, roomID, p.Rows()); err != nil {
		return fmt.Errorf("failed to replace content: %w", err)
	}
	log.Info().
		Str("room_id", roomID.String()).
		Str("title", p.Title).
		Int("round_1", p.QuestionCount(models.RoundOne)).
		Int("round_2", p.QuestionCount(models.RoundTwo)).
		Bool("final", p.Final != nil).
		Msg("content imported")
	return nil
}

// Clone copies existing rows under fresh ids with every question unanswered.
func Clone(rows []models.CategoryWithQuestions) []models.CategoryWithQuestions {
	out := make([]models.CategoryWithQuestions, 0, len(rows))
	for _, cwq := range rows {
		cat := cwq.Category
		cat.ID = uuid.New()
		next := models.CategoryWithQuestions{Category: cat}
		for _, q := range cwq.Questions {
			q.ID = uuid.New()
			q.CategoryID = cat.ID
			q.IsAnswered = false
			q.AnsweredBy = nil
			if q.PointValue != nil {
				v := *q.PointValue
				q.PointValue = &v
			}
			next.Questions = append(next.Questions, q)
		}
		out = append(out, next)
	}
	return out
}
