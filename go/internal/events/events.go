package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Name identifies the kind of a room event.
type Name string

const (
	PhaseChanged          Name = "phase_changed"
	QuestionPreview       Name = "question_preview"
	QuestionActivated     Name = "question_activated"
	QuestionDeactivated   Name = "question_deactivated"
	JudgingStarted        Name = "judging_started"
	TimerCancelled        Name = "timer_cancelled"
	ScoreUpdated          Name = "score_updated"
	LeaseChanged          Name = "lease_changed"
	FinalWagerLocked      Name = "final_wager_locked"
	FinalQuestionRevealed Name = "final_question_revealed"
	FinalTimerExpired     Name = "final_timer_expired"
	FinalResponseRevealed Name = "final_response_revealed"
	FinalJudged           Name = "final_judged"
	GameOver              Name = "game_over"
	RoomClosed            Name = "room_closed"
	BuzzReceived          Name = "buzz_received"
	BuzzResponse          Name = "buzz_response"
	BuzzExpired           Name = "buzz_expired"
	TeamJoined            Name = "team_joined"
)

// Event is the envelope every room-scoped message travels in.
type Event struct {
	ID      uuid.UUID       `json:"id"`
	RoomID  uuid.UUID       `json:"room_id"`
	Name    Name            `json:"name"`
	Sender  string          `json:"sender"`
	SentAt  time.Time       `json:"sent_at"`
	Payload json.RawMessage `json:"payload"`
}

// New builds an envelope around payload.
func New(roomID uuid.UUID, name Name, sender string, sentAt time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	return Event{
		ID:      uuid.New(),
		RoomID:  roomID,
		Name:    name,
		Sender:  sender,
		SentAt:  sentAt,
		Payload: data,
	}, nil
}

// Decode parses the payload of ev into the struct registered for its name.
// Unknown names return (nil, nil) so newer senders do not break older readers.
func Decode(ev Event) (any, error) {
	var target any
	switch ev.Name {
	case PhaseChanged:
		target = &PhaseChangedPayload{}
	case QuestionPreview:
		target = &QuestionPreviewPayload{}
	case QuestionActivated:
		target = &QuestionActivatedPayload{}
	case QuestionDeactivated:
		target = &QuestionDeactivatedPayload{}
	case JudgingStarted:
		target = &JudgingStartedPayload{}
	case TimerCancelled:
		target = &TimerCancelledPayload{}
	case ScoreUpdated:
		target = &ScoreUpdatedPayload{}
	case LeaseChanged:
		target = &LeaseChangedPayload{}
	case FinalWagerLocked:
		target = &FinalWagerLockedPayload{}
	case FinalQuestionRevealed:
		target = &FinalQuestionRevealedPayload{}
	case FinalTimerExpired:
		target = &FinalTimerExpiredPayload{}
	case FinalResponseRevealed:
		target = &FinalResponseRevealedPayload{}
	case FinalJudged:
		target = &FinalJudgedPayload{}
	case GameOver:
		target = &GameOverPayload{}
	case RoomClosed:
		target = &RoomClosedPayload{}
	case BuzzReceived:
		target = &BuzzReceivedPayload{}
	case BuzzResponse:
		target = &BuzzResponsePayload{}
	case BuzzExpired:
		target = &BuzzExpiredPayload{}
	case TeamJoined:
		target = &TeamJoinedPayload{}
	default:
		return nil, nil
	}
	if err := json.Unmarshal(ev.Payload, target); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", ev.Name, err)
	}
	return target, nil
}
