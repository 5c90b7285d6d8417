package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/buzzer/go/internal/changefeed"
	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/store/memstore"
	"github.com/mcdev12/buzzer/go/internal/transport"
	"github.com/mcdev12/buzzer/go/internal/transport/membus"
)

const waitFor = 2 * time.Second

type fixture struct {
	ctx     context.Context
	store   *memstore.Store
	pub     *transport.Publisher
	service *Service
	server  *httptest.Server
	room    *models.Room
	team    *models.Team
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 4, 19, 0, 0, 0, time.UTC))
	feed := changefeed.NewMemory()
	st := memstore.New(clock, feed)
	bus := membus.New()

	room, _, err := st.CreateRoom(ctx, "GTW234")
	require.NoError(t, err)
	team, err := st.CreateTeam(ctx, room.ID, "Quiz Wizards", "quiz-wizards")
	require.NoError(t, err)

	pts := 200
	cat := models.CategoryWithQuestions{Category: models.Category{ID: uuid.New(), Round: models.RoundOne, Name: "Space"}}
	cat.Questions = []models.Question{{ID: uuid.New(), CategoryID: cat.Category.ID, Clue: "red planet", Answer: "Mars", PointValue: &pts}}
	require.NoError(t, st.ReplaceContent(ctx, room.ID, []models.CategoryWithQuestions{cat}))

	service := NewService(Config{Clock: clock, Store: st, Bus: bus, Feed: feed, ResyncInterval: -1})
	go service.Start(ctx)
	t.Cleanup(service.Stop)

	mux := http.NewServeMux()
	NewHandler(service).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &fixture{
		ctx:     ctx,
		store:   st,
		pub:     transport.NewPublisher(bus, "controller", clock, nil),
		service: service,
		server:  server,
		room:    room,
		team:    team,
	}
}

func (f *fixture) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (f *fixture) dial(t *testing.T, roomID uuid.UUID) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/rooms/" + roomID.String()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

// next reads frames until one satisfies cond.
func next(t *testing.T, conn *websocket.Conn, cond func(Frame) bool) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	for {
		var frame Frame
		require.NoError(t, conn.ReadJSON(&frame))
		if cond(frame) {
			return frame
		}
	}
}

func TestHandler_RoomState(t *testing.T) {
	f := newFixture(t)

	code, body := f.get(t, "/api/rooms/"+f.room.ID.String()+"/state")
	require.Equal(t, http.StatusOK, code)
	var state RoomState
	require.NoError(t, json.Unmarshal([]byte(body), &state))
	assert.Equal(t, "GTW234", state.JoinCode)
	assert.Equal(t, models.RoomStatusLobby, state.Status)
	require.Len(t, state.Teams, 1)
	assert.Equal(t, "Quiz Wizards", state.Teams[0].Name)
	require.Len(t, state.Board, 1)
	require.Len(t, state.Board[0].Questions, 1)
	assert.Equal(t, 200, state.Board[0].Questions[0].PointValue)
	assert.NotContains(t, body, "Mars", "answers never reach the display")
	assert.NotContains(t, body, "red planet", "clues stay hidden until activated")

	code, _ = f.get(t, "/api/rooms/live")
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.get(t, "/api/rooms/not-a-uuid/state")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.get(t, "/api/rooms/"+uuid.New().String()+"/state")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHandler_StreamsRoomUpdates(t *testing.T) {
	f := newFixture(t)
	conn, _, err := f.dial(t, f.room.ID)
	require.NoError(t, err)

	first := next(t, conn, func(Frame) bool { return true })
	assert.Equal(t, FrameState, first.Type)
	require.NotNil(t, first.State)
	assert.Equal(t, f.room.ID, first.State.RoomID)
	assert.True(t, f.service.Watching(f.room.ID))

	// A row change with no event still reaches the display.
	_, err = f.store.AdjustScore(f.ctx, f.team.ID, 400)
	require.NoError(t, err)
	next(t, conn, func(fr Frame) bool {
		return fr.State != nil && len(fr.State.Teams) == 1 && fr.State.Teams[0].Score == 400
	})

	holder := f.team.ID
	require.NoError(t, f.pub.Emit(f.ctx, f.room.ID, events.LeaseChanged, events.LeaseChangedPayload{TeamID: &holder, GrantedAt: time.Now()}))
	leased := next(t, conn, func(fr Frame) bool { return fr.Event == string(events.LeaseChanged) })
	require.NotNil(t, leased.State.LeaseHolder)
	assert.Equal(t, holder, *leased.State.LeaseHolder)

	require.NoError(t, f.pub.Emit(f.ctx, f.room.ID, events.RoomClosed, events.RoomClosedPayload{RoomID: f.room.ID, Reason: events.ReasonClosed}))
	evicted := next(t, conn, func(fr Frame) bool { return fr.Type == FrameEvicted })
	assert.Equal(t, "room_closed", evicted.Reason)
	require.Eventually(t, func() bool { return !f.service.Watching(f.room.ID) }, waitFor, 5*time.Millisecond)
}

func TestHandler_ReleasesRoomWithoutWatchers(t *testing.T) {
	f := newFixture(t)
	a, _, err := f.dial(t, f.room.ID)
	require.NoError(t, err)
	b, _, err := f.dial(t, f.room.ID)
	require.NoError(t, err)
	next(t, a, func(Frame) bool { return true })
	next(t, b, func(Frame) bool { return true })
	require.Eventually(t, func() bool { return f.service.Stats().Total == 2 }, waitFor, 5*time.Millisecond)

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return f.service.Stats().Total == 1 }, waitFor, 5*time.Millisecond)
	assert.True(t, f.service.Watching(f.room.ID))

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return !f.service.Watching(f.room.ID) }, waitFor, 5*time.Millisecond)
}

func TestHandler_RejectsFinishedRoom(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.RetireRoom(f.ctx, f.room.ID)
	require.NoError(t, err)

	_, resp, err := f.dial(t, f.room.ID)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	// The last state is still readable.
	code, _ := f.get(t, "/api/rooms/"+f.room.ID.String()+"/state")
	assert.Equal(t, http.StatusOK, code)
}
