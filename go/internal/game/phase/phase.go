// Package phase holds the room status machine and the final-round cut.
package phase

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/mcdev12/buzzer/go/internal/models"
)

// FinalistCount is how many teams remain active for the final round.
const FinalistCount = 3

// MinTeamsToStart is the smallest lobby that may begin round one.
const MinTeamsToStart = 2

var (
	ErrInvalidTransition = errors.New("invalid phase transition")
	ErrNotEnoughTeams    = errors.New("not enough teams to start")
	ErrNoContent         = errors.New("room has no imported content")
	ErrRoundIncomplete   = errors.New("round still has unanswered questions")
)

var next = map[models.RoomStatus]models.RoomStatus{
	models.RoomStatusLobby:         models.RoomStatusRound1,
	models.RoomStatusRound1:        models.RoomStatusRound2,
	models.RoomStatusRound2:        models.RoomStatusFinalJeopardy,
	models.RoomStatusFinalJeopardy: models.RoomStatusFinished,
}

// Next returns the status that follows from, or false if from is terminal.
func Next(from models.RoomStatus) (models.RoomStatus, bool) {
	to, ok := next[from]
	return to, ok
}

// CanTransition reports whether from -> to is a legal forward step.
func CanTransition(from, to models.RoomStatus) bool {
	n, ok := next[from]
	return ok && n == to
}

// Validate returns ErrInvalidTransition wrapped with the statuses when the step is illegal.
func Validate(from, to models.RoomStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// RoundFor maps a status to the content round shown in it. Zero means no board.
func RoundFor(status models.RoomStatus) int {
	switch status {
	case models.RoomStatusRound1:
		return models.RoundOne
	case models.RoomStatusRound2:
		return models.RoundTwo
	case models.RoomStatusFinalJeopardy:
		return models.RoundFinal
	}
	return 0
}

// IsBoardRound reports whether questions are selected from a board in status.
func IsBoardRound(status models.RoomStatus) bool {
	return status == models.RoomStatusRound1 || status == models.RoomStatusRound2
}

// CheckStart verifies the lobby may begin round one.
func CheckStart(teams []models.Team, questionCount int) error {
	if len(teams) < MinTeamsToStart {
		return fmt.Errorf("%w: have %d, need %d", ErrNotEnoughTeams, len(teams), MinTeamsToStart)
	}
	if questionCount == 0 {
		return ErrNoContent
	}
	return nil
}

// CheckRoundComplete verifies every question of a board round has been answered.
func CheckRoundComplete(questions []models.Question) error {
	open := 0
	for _, q := range questions {
		if !q.IsAnswered {
			open++
		}
	}
	if open > 0 {
		return fmt.Errorf("%w: %d open", ErrRoundIncomplete, open)
	}
	return nil
}

// SortByJoinOrder orders teams by the order they joined the room.
func SortByJoinOrder(teams []models.Team) {
	sort.SliceStable(teams, func(i, j int) bool {
		if teams[i].JoinOrder != teams[j].JoinOrder {
			return teams[i].JoinOrder < teams[j].JoinOrder
		}
		return teams[i].CreatedAt.Before(teams[j].CreatedAt)
	})
}

// RankForFinal ranks active teams by score descending with ties broken by
// join order, and splits them into the finalists and the eliminated.
func RankForFinal(teams []models.Team) (advancing, eliminated []uuid.UUID) {
	ranked := make([]models.Team, 0, len(teams))
	for _, t := range teams {
		if t.IsActive {
			ranked = append(ranked, t)
		}
	}
	SortByJoinOrder(ranked)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	for i, t := range ranked {
		if i < FinalistCount {
			advancing = append(advancing, t.ID)
		} else {
			eliminated = append(eliminated, t.ID)
		}
	}
	return advancing, eliminated
}

// ReviewOrder orders finalists ascending by score with ties stable by join order.
func ReviewOrder(teams []models.Team) []models.Team {
	out := make([]models.Team, len(teams))
	copy(out, teams)
	SortByJoinOrder(out)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score < out[j].Score
	})
	return out
}

// ScoreTable sorts all teams by score descending, ties by join order.
func ScoreTable(teams []models.Team) []models.TeamScore {
	sorted := make([]models.Team, len(teams))
	copy(sorted, teams)
	SortByJoinOrder(sorted)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	table := make([]models.TeamScore, 0, len(sorted))
	for _, t := range sorted {
		table = append(table, models.TeamScore{TeamID: t.ID, Name: t.Name, Score: t.Score})
	}
	return table
}
