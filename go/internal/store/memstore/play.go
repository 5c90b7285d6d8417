package memstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/mcdev12/buzzer/go/internal/changefeed"
	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/store"
)

func copyQuestion(q *models.Question) models.Question {
	c := *q
	if q.PointValue != nil {
		v := *q.PointValue
		c.PointValue = &v
	}
	if q.AnsweredBy != nil {
		id := *q.AnsweredBy
		c.AnsweredBy = &id
	}
	return c
}

func copyBuzz(b *models.Buzz) models.Buzz {
	c := *b
	if b.Response != nil {
		r := *b.Response
		c.Response = &r
	}
	if b.RespondedAt != nil {
		t := *b.RespondedAt
		c.RespondedAt = &t
	}
	return c
}

func copyWager(w *models.Wager) models.Wager {
	c := *w
	if w.Response != nil {
		r := *w.Response
		c.Response = &r
	}
	if w.RespondedAt != nil {
		t := *w.RespondedAt
		c.RespondedAt = &t
	}
	return c
}

func (s *Store) ReplaceContent(_ context.Context, roomID uuid.UUID, content []models.CategoryWithQuestions) error {
	unlock := s.lock()
	defer unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return fmt.Errorf("failed to replace content: %w", store.ErrNotFound)
	}
	for id, q := range s.questions {
		if q.RoomID == roomID {
			delete(s.questions, id)
		}
	}
	for id, c := range s.categories {
		if c.RoomID == roomID {
			delete(s.categories, id)
		}
	}
	for _, cwq := range content {
		cat := cwq.Category
		cat.RoomID = roomID
		s.categories[cat.ID] = &cat
		for _, q := range cwq.Questions {
			qn := copyQuestion(&q)
			qn.CategoryID = cat.ID
			qn.RoomID = roomID
			s.questions[qn.ID] = &qn
			s.changed(changefeed.TableQuestions, "INSERT", roomID, qn.ID)
		}
	}
	return nil
}

func (s *Store) ListCategories(_ context.Context, roomID uuid.UUID, round int) ([]models.Category, error) {
	unlock := s.lock()
	defer unlock()
	var out []models.Category
	for _, c := range s.categories {
		if c.RoomID == roomID && c.Round == round {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *Store) ListQuestions(_ context.Context, roomID uuid.UUID, round int) ([]models.Question, error) {
	unlock := s.lock()
	defer unlock()
	var out []models.Question
	for _, q := range s.questions {
		cat, ok := s.categories[q.CategoryID]
		if q.RoomID == roomID && ok && cat.Round == round {
			out = append(out, copyQuestion(q))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := s.categories[out[i].CategoryID], s.categories[out[j].CategoryID]
		if ci.Position != cj.Position {
			return ci.Position < cj.Position
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (s *Store) GetQuestion(_ context.Context, id uuid.UUID) (*models.Question, error) {
	unlock := s.lock()
	defer unlock()
	q, ok := s.questions[id]
	if !ok {
		return nil, fmt.Errorf("failed to get question: %w", store.ErrNotFound)
	}
	c := copyQuestion(q)
	return &c, nil
}

func (s *Store) MarkAnswered(_ context.Context, questionID uuid.UUID, answeredBy *uuid.UUID) (bool, error) {
	unlock := s.lock()
	defer unlock()
	q, ok := s.questions[questionID]
	if !ok || q.IsAnswered {
		return false, nil
	}
	q.IsAnswered = true
	if answeredBy != nil {
		id := *answeredBy
		q.AnsweredBy = &id
	}
	s.changed(changefeed.TableQuestions, "UPDATE", q.RoomID, q.ID)
	return true, nil
}

func (s *Store) InsertBuzz(_ context.Context, roomID, questionID, teamID uuid.UUID) (*models.Buzz, error) {
	unlock := s.lock()
	defer unlock()
	r, ok := s.rooms[roomID]
	if !ok || r.CurrentQuestionID == nil || *r.CurrentQuestionID != questionID {
		return nil, store.ErrQuestionNotActive
	}
	t, ok := s.teams[teamID]
	if !ok || t.RoomID != roomID || !t.IsActive {
		return nil, store.ErrQuestionNotActive
	}
	for _, b := range s.buzzes {
		if b.QuestionID == questionID && b.TeamID == teamID {
			return nil, store.ErrDuplicateBuzz
		}
	}
	b := &models.Buzz{
		ID:         uuid.New(),
		QuestionID: questionID,
		TeamID:     teamID,
		RoomID:     roomID,
		BuzzedAt:   s.clock.Now(),
		Status:     models.BuzzStatusPending,
	}
	s.buzzes[b.ID] = b
	s.changed(changefeed.TableBuzzes, "INSERT", roomID, b.ID)
	c := copyBuzz(b)
	return &c, nil
}

func (s *Store) GetBuzz(_ context.Context, id uuid.UUID) (*models.Buzz, error) {
	unlock := s.lock()
	defer unlock()
	b, ok := s.buzzes[id]
	if !ok {
		return nil, fmt.Errorf("failed to get buzz: %w", store.ErrNotFound)
	}
	c := copyBuzz(b)
	return &c, nil
}

func (s *Store) ListBuzzes(_ context.Context, questionID uuid.UUID) ([]models.Buzz, error) {
	unlock := s.lock()
	defer unlock()
	var out []models.Buzz
	for _, b := range s.buzzes {
		if b.QuestionID == questionID {
			out = append(out, copyBuzz(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BuzzedAt.Equal(out[j].BuzzedAt) {
			return out[i].BuzzedAt.Before(out[j].BuzzedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out, nil
}

func (s *Store) TransitionBuzz(_ context.Context, id uuid.UUID, from, to models.BuzzStatus) (bool, error) {
	unlock := s.lock()
	defer unlock()
	b, ok := s.buzzes[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	s.changed(changefeed.TableBuzzes, "UPDATE", b.RoomID, b.ID)
	return true, nil
}

func (s *Store) SetBuzzResponse(_ context.Context, id, teamID uuid.UUID, response string) error {
	unlock := s.lock()
	defer unlock()
	b, ok := s.buzzes[id]
	if !ok || b.TeamID != teamID || b.Status != models.BuzzStatusPending {
		return fmt.Errorf("failed to set buzz response: %w", store.ErrNotFound)
	}
	now := s.clock.Now()
	b.Response = &response
	b.RespondedAt = &now
	s.changed(changefeed.TableBuzzes, "UPDATE", b.RoomID, b.ID)
	return nil
}

func (s *Store) SkipPendingBuzzes(_ context.Context, questionID uuid.UUID) (int64, error) {
	unlock := s.lock()
	defer unlock()
	var n int64
	for _, b := range s.buzzes {
		if b.QuestionID == questionID && b.Status == models.BuzzStatusPending {
			b.Status = models.BuzzStatusSkipped
			s.changed(changefeed.TableBuzzes, "UPDATE", b.RoomID, b.ID)
			n++
		}
	}
	return n, nil
}

func (s *Store) LockWager(_ context.Context, roomID, teamID uuid.UUID, amount int) (*models.Wager, error) {
	unlock := s.lock()
	defer unlock()
	t, ok := s.teams[teamID]
	if !ok || t.RoomID != roomID || !t.IsActive {
		return nil, fmt.Errorf("failed to lock wager: %w", store.ErrNotFound)
	}
	for _, w := range s.wagers {
		if w.RoomID == roomID && w.TeamID == teamID {
			return nil, store.ErrWagerLocked
		}
	}
	w := &models.Wager{
		ID:        uuid.New(),
		RoomID:    roomID,
		TeamID:    teamID,
		Amount:    models.ClampWager(amount, t.Score),
		Status:    models.WagerStatusPending,
		CreatedAt: s.clock.Now(),
	}
	s.wagers[w.ID] = w
	s.changed(changefeed.TableWagers, "INSERT", roomID, w.ID)
	c := copyWager(w)
	return &c, nil
}

func (s *Store) SetWagerResponse(_ context.Context, roomID, teamID uuid.UUID, response string) error {
	unlock := s.lock()
	defer unlock()
	for _, w := range s.wagers {
		if w.RoomID == roomID && w.TeamID == teamID && w.Status == models.WagerStatusPending {
			now := s.clock.Now()
			w.Response = &response
			w.RespondedAt = &now
			s.changed(changefeed.TableWagers, "UPDATE", roomID, w.ID)
			return nil
		}
	}
	return fmt.Errorf("failed to set wager response: %w", store.ErrNotFound)
}

func (s *Store) ListWagers(_ context.Context, roomID uuid.UUID) ([]models.Wager, error) {
	unlock := s.lock()
	defer unlock()
	var out []models.Wager
	for _, w := range s.wagers {
		if w.RoomID == roomID {
			out = append(out, copyWager(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) JudgeWager(_ context.Context, id uuid.UUID, to models.WagerStatus) (bool, error) {
	unlock := s.lock()
	defer unlock()
	w, ok := s.wagers[id]
	if !ok || w.Status != models.WagerStatusPending {
		return false, nil
	}
	w.Status = to
	s.changed(changefeed.TableWagers, "UPDATE", w.RoomID, w.ID)
	return true, nil
}
