package models

import (
	"github.com/google/uuid"
)

// Round numbers used by categories. Round 3 holds the single final question.
const (
	RoundOne   = 1
	RoundTwo   = 2
	RoundFinal = 3
)

// Category groups questions for one round.
type Category struct {
	ID       uuid.UUID `json:"id"`
	RoomID   uuid.UUID `json:"room_id"`
	Round    int       `json:"round"`
	Name     string    `json:"name"`
	Position int       `json:"position"`
}

// Question is a clue on the board. PointValue is nil only for the final question.
type Question struct {
	ID         uuid.UUID  `json:"id"`
	CategoryID uuid.UUID  `json:"category_id"`
	RoomID     uuid.UUID  `json:"room_id"`
	Clue       string     `json:"clue"`
	Answer     string     `json:"answer"`
	PointValue *int       `json:"point_value,omitempty"`
	Position   int        `json:"position"`
	IsAnswered bool       `json:"is_answered"`
	AnsweredBy *uuid.UUID `json:"answered_by,omitempty"`
}

// Points returns the point value or zero for the final question.
func (q *Question) Points() int {
	if q.PointValue == nil {
		return 0
	}
	return *q.PointValue
}

// CategoryWithQuestions is one category and its questions, used by content import.
type CategoryWithQuestions struct {
	Category  Category   `json:"category"`
	Questions []Question `json:"questions"`
}
