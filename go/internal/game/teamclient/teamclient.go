// Package teamclient is the client a team plays from. It joins a room by
// code, follows the room through a synchronizer, and performs the writes a
// team is allowed to make: buzzing, answering, selecting while it holds the
// lease, expiring its own judging window and the final-round wager flow.
package teamclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/changefeed"
	"github.com/mcdev12/buzzer/go/internal/clientsync"
	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/game/lease"
	"github.com/mcdev12/buzzer/go/internal/game/timer"
	"github.com/mcdev12/buzzer/go/internal/joincode"
	"github.com/mcdev12/buzzer/go/internal/metrics"
	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/store"
	"github.com/mcdev12/buzzer/go/internal/transport"
)

var (
	ErrNoSession      = errors.New("not joined to a room")
	ErrSessionGone    = errors.New("session can no longer be resumed")
	ErrRoomStarted    = errors.New("room has already started, new teams cannot join")
	ErrInvalidName    = errors.New("team name is empty")
	ErrSpectator      = errors.New("team was eliminated and can only watch")
	ErrNoQuestion     = errors.New("no question is open for buzzing")
	ErrWrongPhase     = errors.New("not allowed in the current phase")
	ErrAlreadyBuzzed  = errors.New("team already buzzed on this question")
	ErrUnknownContent = errors.New("question is not on the current board")
)

// Session identifies one player's seat on a team.
type Session struct {
	RoomID    uuid.UUID `json:"room_id"`
	TeamID    uuid.UUID `json:"team_id"`
	PlayerID  uuid.UUID `json:"player_id"`
	SessionID string    `json:"session_id"`
	TeamName  string    `json:"team_name"`
}

type Config struct {
	Clock   clockwork.Clock
	Store   store.Store
	Bus     transport.Bus
	Feed    changefeed.Feed // optional
	Metrics metrics.Collector
	// Registry may be shared with other clients in the same process.
	Registry       *transport.Registry
	ResyncInterval time.Duration

	OnUpdate func(clientsync.Projection)
	OnEvict  func(reason string)
}

// Client is one player's view of their team.
type Client struct {
	cfg      Config
	clock    clockwork.Clock
	store    store.Store
	registry *transport.Registry
	metrics  metrics.Collector

	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	session  *Session
	sync     *clientsync.Synchronizer
	pub      *transport.Publisher
	selector *lease.Selector
	judging  *ownJudging
	final    finalDraft
}

// ownJudging is the countdown of this team's buzz while it is judged.
type ownJudging struct {
	buzzID    uuid.UUID
	countdown *timer.Countdown
}

func New(cfg Config) *Client {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoOp{}
	}
	if cfg.Registry == nil {
		cfg.Registry = transport.NewRegistry(cfg.Bus)
	}
	base, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		clock:    cfg.Clock,
		store:    cfg.Store,
		registry: cfg.Registry,
		metrics:  cfg.Metrics,
		base:     base,
		cancel:   cancel,
	}
}

// Join finds the room by code and seats the player on teamName. A name that
// normalizes to an existing team joins that team; new teams may only be
// created in the lobby.
func (c *Client) Join(ctx context.Context, code, teamName string, displayName *string) (*Session, error) {
	name := strings.TrimSpace(teamName)
	teamSlug := slug.Make(name)
	if name == "" || teamSlug == "" {
		return nil, ErrInvalidName
	}
	room, err := c.store.GetRoomByJoinCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, fmt.Errorf("failed to find room: %w", err)
	}
	if !room.IsLive() {
		return nil, ErrSessionGone
	}

	team, created, err := c.findOrCreateTeam(ctx, room, name, teamSlug)
	if err != nil {
		return nil, err
	}

	sessionID, err := joincode.Session()
	if err != nil {
		return nil, err
	}
	player, err := c.store.CreatePlayer(ctx, models.Player{
		TeamID:      team.ID,
		RoomID:      room.ID,
		DisplayName: displayName,
		SessionID:   sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create player: %w", err)
	}

	sess := &Session{
		RoomID:    room.ID,
		TeamID:    team.ID,
		PlayerID:  player.ID,
		SessionID: sessionID,
		TeamName:  team.Name,
	}
	if err := c.attach(ctx, sess); err != nil {
		return nil, err
	}
	if created {
		c.emit(ctx, events.TeamJoined, events.TeamJoinedPayload{Team: *team})
	}

	log.Info().
		Str("room_id", room.ID.String()).
		Str("team_id", team.ID.String()).
		Str("team", team.Name).
		Bool("new_team", created).
		Msg("joined room")
	return sess, nil
}

func (c *Client) findOrCreateTeam(ctx context.Context, room *models.Room, name, teamSlug string) (*models.Team, bool, error) {
	existing := func() (*models.Team, error) {
		teams, err := c.store.ListTeams(ctx, room.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list teams: %w", err)
		}
		for i := range teams {
			if teams[i].Slug == teamSlug {
				return &teams[i], nil
			}
		}
		return nil, nil
	}

	team, err := existing()
	if err != nil || team != nil {
		return team, false, err
	}
	if room.Status != models.RoomStatusLobby {
		return nil, false, ErrRoomStarted
	}
	team, err = c.store.CreateTeam(ctx, room.ID, name, teamSlug)
	if errors.Is(err, store.ErrDuplicateTeam) {
		// Another player created it first.
		team, err = existing()
		if err == nil && team == nil {
			err = store.ErrDuplicateTeam
		}
		return team, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create team: %w", err)
	}
	return team, true, nil
}

// Resume reattaches a stored session. A session whose room or team is gone,
// or whose room has finished, is cleared and ErrSessionGone returned so the
// caller starts over from room discovery.
func (c *Client) Resume(ctx context.Context, sessionID string) (*Session, error) {
	player, err := c.store.GetPlayerBySession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionGone
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	team, err := c.store.GetTeam(ctx, player.TeamID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionGone
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load team: %w", err)
	}

	sess := &Session{
		RoomID:    player.RoomID,
		TeamID:    team.ID,
		PlayerID:  player.ID,
		SessionID: sessionID,
		TeamName:  team.Name,
	}
	if err := c.attach(ctx, sess); err != nil {
		if errors.Is(err, clientsync.ErrEvicted) {
			return nil, ErrSessionGone
		}
		return nil, err
	}
	log.Info().Str("room_id", sess.RoomID.String()).Str("team_id", sess.TeamID.String()).Msg("session resumed")
	return sess, nil
}

func (c *Client) attach(ctx context.Context, sess *Session) error {
	c.Leave()

	teamID := sess.TeamID
	pub := transport.NewPublisher(c.cfg.Bus, "team:"+teamID.String(), c.clock, c.metrics)
	s := clientsync.New(clientsync.Config{
		Clock:          c.clock,
		Store:          c.store,
		Registry:       c.registry,
		Feed:           c.cfg.Feed,
		Metrics:        c.metrics,
		ResyncInterval: c.cfg.ResyncInterval,
		TeamID:         &teamID,
		Hooks: clientsync.Hooks{
			OnUpdate: c.onUpdate,
			OnEvict:  c.onEvict,
		},
	})

	c.mu.Lock()
	c.session = sess
	c.sync = s
	c.pub = pub
	c.selector = lease.NewSelector(c.clock, c.store, pub, teamID)
	c.final = finalDraft{}
	c.mu.Unlock()

	if err := s.Connect(ctx, sess.RoomID); err != nil {
		s.Close()
		c.mu.Lock()
		c.clearLocked()
		c.mu.Unlock()
		return err
	}
	return nil
}

// Session returns the active session.
func (c *Client) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Projection returns the team's current view of the room.
func (c *Client) Projection() (clientsync.Projection, bool) {
	c.mu.Lock()
	s := c.sync
	c.mu.Unlock()
	if s == nil {
		return clientsync.Projection{}, false
	}
	return s.Projection()
}

// Leave drops the session and releases the room subscription. Writes already
// in flight may still land; their events are ignored.
func (c *Client) Leave() {
	c.mu.Lock()
	s := c.sync
	c.clearLocked()
	c.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// Close leaves the room and stops background work.
func (c *Client) Close() {
	c.Leave()
	c.cancel()
}

func (c *Client) clearLocked() {
	if c.selector != nil {
		c.selector.Cancel()
	}
	c.stopJudgingLocked()
	c.final.stop()
	c.session = nil
	c.sync = nil
	c.pub = nil
	c.selector = nil
	c.final = finalDraft{}
}

func (c *Client) onEvict(reason string) {
	c.mu.Lock()
	s := c.sync
	c.clearLocked()
	c.mu.Unlock()
	if s != nil {
		go s.Close()
	}
	log.Warn().Str("reason", reason).Msg("session cleared")
	if c.cfg.OnEvict != nil {
		c.cfg.OnEvict(reason)
	}
}

// onUpdate runs after every projection change, outside the synchronizer lock.
func (c *Client) onUpdate(p clientsync.Projection, ev *events.Event) {
	if ev != nil && ev.Name == events.TimerCancelled {
		c.cancelPreview(*ev)
	}
	c.mu.Lock()
	if c.session != nil && p.Room.ID == c.session.RoomID {
		c.trackJudgingLocked(p)
		c.trackFinalLocked(p)
	}
	c.mu.Unlock()

	if c.cfg.OnUpdate != nil {
		c.cfg.OnUpdate(p)
	}
}

// cancelPreview drops our running preview when the controller cancels it,
// which happens when the round ends under it.
func (c *Client) cancelPreview(ev events.Event) {
	payload, err := events.Decode(ev)
	if err != nil {
		return
	}
	tc, ok := payload.(*events.TimerCancelledPayload)
	if !ok || tc.Timer != events.TimerPreview {
		return
	}
	c.mu.Lock()
	sel := c.selector
	c.mu.Unlock()
	if sel == nil {
		return
	}
	if p, ok := sel.Pending(); ok && p.QuestionID == tc.RefID {
		sel.Cancel()
		log.Info().Str("question_id", tc.RefID.String()).Msg("preview cancelled by the controller")
	}
}

// current returns the session and the synchronized projection or ErrNoSession.
func (c *Client) current() (Session, clientsync.Projection, error) {
	c.mu.Lock()
	sess, s := c.session, c.sync
	c.mu.Unlock()
	if sess == nil || s == nil {
		return Session{}, clientsync.Projection{}, ErrNoSession
	}
	p, ok := s.Projection()
	if !ok {
		return Session{}, clientsync.Projection{}, ErrNoSession
	}
	return *sess, p, nil
}

func (c *Client) emit(ctx context.Context, name events.Name, payload any) {
	c.mu.Lock()
	pub, sess := c.pub, c.session
	c.mu.Unlock()
	if pub == nil || sess == nil {
		return
	}
	if err := pub.Emit(ctx, sess.RoomID, name, payload); err != nil {
		log.Error().Err(err).Str("event", string(name)).Msg("failed to publish")
	}
}

func requireActive(sess Session, p clientsync.Projection) error {
	t, ok := p.Team(sess.TeamID)
	if !ok {
		return ErrNoSession
	}
	if !t.IsActive {
		return ErrSpectator
	}
	return nil
}
