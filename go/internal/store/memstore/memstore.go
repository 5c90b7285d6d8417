// Package memstore is an in-process Store with the same row semantics as the
// Postgres store. It backs tests and single-machine demos.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/buzzer/go/internal/changefeed"
	"github.com/mcdev12/buzzer/go/internal/game/phase"
	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/store"
)

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu    sync.Mutex
	clock clockwork.Clock
	feed  *changefeed.Memory

	rooms      map[uuid.UUID]*models.Room
	teams      map[uuid.UUID]*models.Team
	players    map[uuid.UUID]*models.Player
	categories map[uuid.UUID]*models.Category
	questions  map[uuid.UUID]*models.Question
	buzzes     map[uuid.UUID]*models.Buzz
	wagers     map[uuid.UUID]*models.Wager
	joinSeq    int64

	pending []changefeed.Change
}

var _ store.Store = (*Store)(nil)

// New returns an empty store. feed may be nil.
func New(clock clockwork.Clock, feed *changefeed.Memory) *Store {
	return &Store{
		clock:      clock,
		feed:       feed,
		rooms:      make(map[uuid.UUID]*models.Room),
		teams:      make(map[uuid.UUID]*models.Team),
		players:    make(map[uuid.UUID]*models.Player),
		categories: make(map[uuid.UUID]*models.Category),
		questions:  make(map[uuid.UUID]*models.Question),
		buzzes:     make(map[uuid.UUID]*models.Buzz),
		wagers:     make(map[uuid.UUID]*models.Wager),
	}
}

// lock acquires the store; the returned func releases it and then emits the
// queued change notifications outside the lock.
func (s *Store) lock() func() {
	s.mu.Lock()
	return func() {
		changes := s.pending
		s.pending = nil
		s.mu.Unlock()
		if s.feed == nil {
			return
		}
		for _, c := range changes {
			s.feed.Notify(c)
		}
	}
}

func (s *Store) changed(table, op string, roomID, rowID uuid.UUID) {
	s.pending = append(s.pending, changefeed.Change{Table: table, Op: op, RoomID: roomID, RowID: rowID})
}

func (s *Store) touchRoom(r *models.Room) {
	r.UpdatedAt = s.clock.Now()
	s.changed(changefeed.TableRooms, "UPDATE", r.ID, r.ID)
}

func copyRoom(r *models.Room) *models.Room {
	c := *r
	if r.CurrentQuestionID != nil {
		id := *r.CurrentQuestionID
		c.CurrentQuestionID = &id
	}
	if r.Lease != nil {
		l := *r.Lease
		c.Lease = &l
	}
	return &c
}

func (s *Store) CreateRoom(_ context.Context, joinCode string) (*models.Room, []uuid.UUID, error) {
	unlock := s.lock()
	defer unlock()

	for _, r := range s.rooms {
		if r.JoinCode == joinCode {
			return nil, nil, fmt.Errorf("failed to insert room: join code %q in use", joinCode)
		}
	}

	var retired []uuid.UUID
	for _, r := range s.rooms {
		if r.Status != models.RoomStatusFinished {
			r.Status = models.RoomStatusFinished
			r.CurrentQuestionID = nil
			s.touchRoom(r)
			retired = append(retired, r.ID)
		}
	}

	now := s.clock.Now()
	room := &models.Room{
		ID:        uuid.New(),
		JoinCode:  joinCode,
		Status:    models.RoomStatusLobby,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.rooms[room.ID] = room
	s.changed(changefeed.TableRooms, "INSERT", room.ID, room.ID)
	return copyRoom(room), retired, nil
}

func (s *Store) GetRoom(_ context.Context, id uuid.UUID) (*models.Room, error) {
	unlock := s.lock()
	defer unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, fmt.Errorf("failed to get room: %w", store.ErrNotFound)
	}
	return copyRoom(r), nil
}

func (s *Store) GetLiveRoom(_ context.Context) (*models.Room, error) {
	unlock := s.lock()
	defer unlock()
	var live *models.Room
	for _, r := range s.rooms {
		if r.Status != models.RoomStatusFinished && (live == nil || r.CreatedAt.After(live.CreatedAt)) {
			live = r
		}
	}
	if live == nil {
		return nil, fmt.Errorf("failed to get live room: %w", store.ErrNotFound)
	}
	return copyRoom(live), nil
}

func (s *Store) GetRoomByJoinCode(_ context.Context, code string) (*models.Room, error) {
	unlock := s.lock()
	defer unlock()
	for _, r := range s.rooms {
		if r.JoinCode == code {
			return copyRoom(r), nil
		}
	}
	return nil, fmt.Errorf("failed to get room by join code: %w", store.ErrNotFound)
}

func (s *Store) JoinCodeExists(_ context.Context, code string) (bool, error) {
	unlock := s.lock()
	defer unlock()
	for _, r := range s.rooms {
		if r.JoinCode == code {
			return true, nil
		}
	}
	return false, nil
}

// LiveRoomCount reports how many rooms are not finished.
func (s *Store) LiveRoomCount() int {
	unlock := s.lock()
	defer unlock()
	n := 0
	for _, r := range s.rooms {
		if r.Status != models.RoomStatusFinished {
			n++
		}
	}
	return n
}

func (s *Store) UpdateRoomStatus(_ context.Context, id uuid.UUID, from, to models.RoomStatus) (bool, error) {
	unlock := s.lock()
	defer unlock()
	r, ok := s.rooms[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	s.touchRoom(r)
	return true, nil
}

func (s *Store) EnterFinal(_ context.Context, roomID uuid.UUID, eliminated []uuid.UUID) (bool, error) {
	unlock := s.lock()
	defer unlock()
	r, ok := s.rooms[roomID]
	if !ok || r.Status != models.RoomStatusRound2 {
		return false, nil
	}
	r.Status = models.RoomStatusFinalJeopardy
	s.touchRoom(r)
	for _, id := range eliminated {
		if t, ok := s.teams[id]; ok && t.RoomID == roomID && t.IsActive {
			t.IsActive = false
			s.changed(changefeed.TableTeams, "UPDATE", roomID, id)
		}
	}
	return true, nil
}

func (s *Store) RetireRoom(_ context.Context, id uuid.UUID) (bool, error) {
	unlock := s.lock()
	defer unlock()
	r, ok := s.rooms[id]
	if !ok || r.Status == models.RoomStatusFinished {
		return false, nil
	}
	r.Status = models.RoomStatusFinished
	r.CurrentQuestionID = nil
	s.touchRoom(r)
	return true, nil
}

func (s *Store) ActivateQuestion(_ context.Context, roomID, questionID uuid.UUID) (bool, error) {
	unlock := s.lock()
	defer unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false, nil
	}
	if r.CurrentQuestionID != nil && *r.CurrentQuestionID == questionID {
		return false, nil
	}
	q, ok := s.questions[questionID]
	if !ok || q.IsAnswered {
		return false, nil
	}
	if cat, ok := s.categories[q.CategoryID]; !ok || cat.Round != phase.RoundFor(r.Status) {
		return false, nil
	}
	id := questionID
	r.CurrentQuestionID = &id
	s.touchRoom(r)
	return true, nil
}

func (s *Store) ClearQuestion(_ context.Context, roomID, questionID uuid.UUID) (bool, error) {
	unlock := s.lock()
	defer unlock()
	r, ok := s.rooms[roomID]
	if !ok || r.CurrentQuestionID == nil || *r.CurrentQuestionID != questionID {
		return false, nil
	}
	r.CurrentQuestionID = nil
	s.touchRoom(r)
	return true, nil
}

func (s *Store) SetLease(_ context.Context, roomID uuid.UUID, lease *models.Lease) error {
	unlock := s.lock()
	defer unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return fmt.Errorf("failed to set lease: %w", store.ErrNotFound)
	}
	if lease == nil {
		r.Lease = nil
	} else {
		l := *lease
		r.Lease = &l
	}
	s.touchRoom(r)
	return nil
}

func (s *Store) CreateTeam(_ context.Context, roomID uuid.UUID, name, slug string) (*models.Team, error) {
	unlock := s.lock()
	defer unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return nil, fmt.Errorf("failed to create team: %w", store.ErrNotFound)
	}
	for _, t := range s.teams {
		if t.RoomID == roomID && t.Slug == slug {
			return nil, store.ErrDuplicateTeam
		}
	}
	s.joinSeq++
	t := &models.Team{
		ID:        uuid.New(),
		RoomID:    roomID,
		Name:      name,
		Slug:      slug,
		IsActive:  true,
		JoinOrder: s.joinSeq,
		CreatedAt: s.clock.Now(),
	}
	s.teams[t.ID] = t
	s.changed(changefeed.TableTeams, "INSERT", roomID, t.ID)
	c := *t
	return &c, nil
}

func (s *Store) GetTeam(_ context.Context, id uuid.UUID) (*models.Team, error) {
	unlock := s.lock()
	defer unlock()
	t, ok := s.teams[id]
	if !ok {
		return nil, fmt.Errorf("failed to get team: %w", store.ErrNotFound)
	}
	c := *t
	return &c, nil
}

func (s *Store) ListTeams(_ context.Context, roomID uuid.UUID) ([]models.Team, error) {
	unlock := s.lock()
	defer unlock()
	var out []models.Team
	for _, t := range s.teams {
		if t.RoomID == roomID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinOrder < out[j].JoinOrder })
	return out, nil
}

func (s *Store) AdjustScore(_ context.Context, teamID uuid.UUID, delta int) (int, error) {
	unlock := s.lock()
	defer unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return 0, fmt.Errorf("failed to adjust score: %w", store.ErrNotFound)
	}
	t.Score += delta
	s.changed(changefeed.TableTeams, "UPDATE", t.RoomID, t.ID)
	return t.Score, nil
}

func (s *Store) CreatePlayer(_ context.Context, p models.Player) (*models.Player, error) {
	unlock := s.lock()
	defer unlock()
	for _, existing := range s.players {
		if existing.SessionID == p.SessionID {
			return nil, fmt.Errorf("failed to create player: session %q in use", p.SessionID)
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = s.clock.Now()
	s.players[p.ID] = &p
	c := p
	return &c, nil
}

func (s *Store) GetPlayerBySession(_ context.Context, sessionID string) (*models.Player, error) {
	unlock := s.lock()
	defer unlock()
	for _, p := range s.players {
		if p.SessionID == sessionID {
			c := *p
			return &c, nil
		}
	}
	return nil, fmt.Errorf("failed to get player: %w", store.ErrNotFound)
}
