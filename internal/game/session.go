package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const messageTimeout = 5 * time.Second

type Config struct {
	RoomID    string
	PlayerID  string
	Store     Store
	Notifier  Notifier
	Messenger Messenger
	Clock     clockwork.Clock
	Durations Durations
	// Tick is how often the countdown is recomputed. It is a display cadence,
	// correctness does not depend on it.
	Tick time.Duration
}

// Session is one participant's controller for one room. Every client builds its
// own Session; the shared Store is the only source of truth between them.
type Session struct {
	roomID    string
	playerID  string
	store     Store
	notifier  Notifier
	messenger Messenger
	clock     clockwork.Clock
	durations Durations
	tick      time.Duration

	qmu     sync.Mutex
	pending []Change
	signal  chan struct{}

	mu          sync.Mutex
	loaded      bool
	closed      bool
	room        Room
	players     []Player
	roles       []Role
	votes       []Vote
	answer      string
	voted       bool
	announced   map[Phase]bool
	expired     map[Phase]bool
	unsubscribe func()

	pubmu   sync.Mutex
	updates chan Snapshot
}

func NewSession(cfg Config) (*Session, error) {
	if cfg.RoomID == "" || cfg.PlayerID == "" {
		return nil, errors.New("room and player are required")
	}
	if cfg.Store == nil || cfg.Notifier == nil {
		return nil, errors.New("store and notifier are required")
	}
	if cfg.Messenger == nil {
		cfg.Messenger = discardMessenger{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Durations == (Durations{}) {
		cfg.Durations = DefaultDurations()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	return &Session{
		roomID:    cfg.RoomID,
		playerID:  cfg.PlayerID,
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		messenger: cfg.Messenger,
		clock:     cfg.Clock,
		durations: cfg.Durations,
		tick:      cfg.Tick,
		signal:    make(chan struct{}, 1),
		room:      Room{ID: cfg.RoomID, Timers: make(map[string]time.Time)},
		announced: make(map[Phase]bool),
		expired:   make(map[Phase]bool),
		updates:   make(chan Snapshot, 1),
	}, nil
}

// Updates delivers the latest Snapshot after every state change. Slow readers
// only ever see the most recent one.
func (s *Session) Updates() <-chan Snapshot {
	return s.updates
}

// Run subscribes, loads the room and processes notifications and countdown
// ticks until ctx is done or the room is deleted. The subscription is released
// on every exit path.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Open(ctx); err != nil {
		return err
	}
	defer s.Close()
	s.publish()

	ticker := s.clock.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.signal:
			s.Pump(ctx)
		case <-ticker.Chan():
			s.Tick(ctx)
		}
		if s.Closed() {
			log.Info().Str("room_id", s.roomID).Str("player_id", s.playerID).Msg("room closed")
			return ErrRoomNotFound
		}
	}
}

// Open subscribes to the room before reading it so no change committed between
// the read and the subscription is lost. Callers must Close.
func (s *Session) Open(ctx context.Context) error {
	unsubscribe, err := s.notifier.Subscribe(ctx, s.roomID, s.enqueue)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Msg("subscribe failed")
		return unavailable("subscribe", err)
	}
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	if err := s.Reload(ctx); err != nil {
		s.Close()
		return err
	}

	s.mu.Lock()
	phase := s.room.Phase
	// A phase that was already running when we connected has been announced by
	// whoever observed its entry.
	s.announced[phase] = true
	s.mu.Unlock()

	s.enterPhase(ctx)
	return nil
}

// Close releases the room subscription. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Closed reports whether the room has been deleted underneath the session.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reload re-reads the room from the store. A reconnecting client ends up with
// the same phase and countdown origin it had before, and never moves backwards.
func (s *Session) Reload(ctx context.Context) error {
	room, err := s.store.GetRoom(ctx, s.roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Msg("load room failed")
		return unavailable("get room", err)
	}
	players, err := s.store.ListPlayers(ctx, s.roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Msg("load players failed")
		return unavailable("list players", err)
	}
	votes, err := s.store.ListVotes(ctx, s.roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Msg("load votes failed")
		return unavailable("list votes", err)
	}
	var roles []Role
	if room.ScriptID != "" {
		roles, err = s.store.ListRoles(ctx, room.ScriptID)
		if err != nil {
			log.Error().Err(err).Str("room_id", s.roomID).Msg("load roles failed")
			return unavailable("list roles", err)
		}
	}

	s.mu.Lock()
	if !s.loaded || room.Phase.After(s.room.Phase) {
		s.room.Phase = room.Phase
	}
	s.room.HostPlayerID = room.HostPlayerID
	if room.ScriptID != "" {
		s.room.ScriptID = room.ScriptID
		s.roles = roles
	}
	for slot, at := range room.Timers {
		s.setTimerLocked(slot, at)
	}
	s.players = players
	s.votes = votes
	for _, vote := range votes {
		if vote.VoterID == s.playerID {
			s.voted = true
		}
	}
	s.loaded = true
	needAnswer := s.room.Phase == PhaseEnded && s.answer == "" && s.room.ScriptID != ""
	scriptID := s.room.ScriptID
	s.mu.Unlock()

	if needAnswer {
		s.loadAnswer(ctx, scriptID)
	}
	return nil
}

func (s *Session) enqueue(change Change) {
	if change.RoomID != "" && change.RoomID != s.roomID {
		return
	}
	s.qmu.Lock()
	s.pending = append(s.pending, change)
	s.qmu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Session) drain() []Change {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	changes := s.pending
	s.pending = nil
	return changes
}

type effects struct {
	resync     bool
	entered    bool
	hostGained bool
	checkVotes bool
	rolesFor   string
}

// Pump applies every queued notification in delivery order and runs the side
// effects they trigger. It reports whether anything was applied.
func (s *Session) Pump(ctx context.Context) bool {
	changes := s.drain()
	if len(changes) == 0 {
		return false
	}
	var fx effects
	s.mu.Lock()
	for _, change := range changes {
		s.applyLocked(change, &fx)
	}
	s.mu.Unlock()

	if fx.resync {
		before := s.Phase()
		switch err := s.Reload(ctx); {
		case errors.Is(err, ErrRoomNotFound):
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
		case err != nil:
			log.Warn().Err(err).Str("room_id", s.roomID).Msg("resync failed")
		case s.Phase().After(before):
			fx.entered = true
		default:
			fx.hostGained = fx.hostGained || s.IsHost()
			fx.checkVotes = fx.checkVotes || s.Phase() == PhaseVoting
		}
	}
	if fx.rolesFor != "" {
		s.loadRoles(ctx, fx.rolesFor)
	}
	if fx.entered {
		s.enterPhase(ctx)
	} else if fx.hostGained {
		s.ensureTimer(ctx)
	}
	if fx.checkVotes && s.IsHost() {
		s.checkCompletion(ctx)
	}
	s.publish()
	return true
}

func (s *Session) applyLocked(change Change, fx *effects) {
	wasHost := s.isHostLocked()
	switch change.Kind {
	case ChangeRoom:
		if change.Deleted {
			s.closed = true
			return
		}
		if change.Room.Phase.After(s.room.Phase) {
			log.Debug().
				Str("room_id", s.roomID).
				Str("player_id", s.playerID).
				Str("from", s.room.Phase.String()).
				Str("to", change.Room.Phase.String()).
				Msg("phase observed")
			s.room.Phase = change.Room.Phase
			fx.entered = true
		}
		if change.Room.ScriptID != "" && change.Room.ScriptID != s.room.ScriptID {
			s.room.ScriptID = change.Room.ScriptID
			fx.rolesFor = change.Room.ScriptID
		}
		s.room.HostPlayerID = change.Room.HostPlayerID
		for slot, at := range change.Room.Timers {
			s.setTimerLocked(slot, at)
		}
	case ChangePlayer:
		if change.Deleted {
			s.removePlayerLocked(change.Player.ID)
			if s.room.Phase == PhaseVoting {
				fx.checkVotes = true
			}
		} else {
			s.upsertPlayerLocked(change.Player)
		}
	case ChangeTimer:
		s.setTimerLocked(change.Timer.Slot, change.Timer.StartedAt)
	case ChangeVote:
		if change.Deleted {
			return
		}
		s.addVoteLocked(change.Vote)
	case ChangeResync:
		fx.resync = true
	}
	if !wasHost && s.isHostLocked() {
		log.Info().Str("room_id", s.roomID).Str("player_id", s.playerID).Msg("host role received")
		fx.hostGained = true
	}
}

// enterPhase runs the one-time entry behaviour of the current phase.
func (s *Session) enterPhase(ctx context.Context) {
	s.mu.Lock()
	phase := s.room.Phase
	announce := s.isHostLocked() && !s.announced[phase]
	s.announced[phase] = true
	needAnswer := phase == PhaseEnded && s.answer == "" && s.room.ScriptID != ""
	scriptID := s.room.ScriptID
	s.mu.Unlock()

	if announce {
		if text, ok := entryAnnouncement(phase); ok {
			s.post(ctx, text)
		}
	}
	s.ensureTimer(ctx)
	if needAnswer {
		s.loadAnswer(ctx, scriptID)
	}
}

// Start leaves the waiting room. Host only.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	phase := s.room.Phase
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if phase != PhaseWaiting {
		return ErrWrongPhase
	}
	return s.Advance(ctx)
}

// Advance asks the store to move the room to the phase after the one this
// client last observed. The new phase arrives through the notification path
// like it does for every other client.
func (s *Session) Advance(ctx context.Context) error {
	s.mu.Lock()
	phase := s.room.Phase
	host := s.isHostLocked()
	gate := s.advanceGateLocked(phase)
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if !host {
		return ErrNotHost
	}
	if gate != nil {
		return gate
	}
	return s.advanceFrom(ctx, phase)
}

func (s *Session) advanceGateLocked(phase Phase) error {
	switch phase {
	case PhaseIntroduction:
		if s.room.ScriptID == "" {
			return ErrScriptNotReady
		}
	case PhaseRoleSelection:
		if !AllSelected(s.players) {
			return ErrRolesPending
		}
	case PhaseVoting, PhaseEnded:
		return ErrWrongPhase
	case PhaseWaiting, PhaseNarrative1, PhaseInvestigation1, PhaseDiscussion1,
		PhaseNarrative2, PhaseInvestigation2, PhaseDiscussion2:
	}
	return nil
}

// advanceFrom performs the conditional phase write. The host flag is re-read
// from the store first so a host that lost the flag mid-flight never writes.
func (s *Session) advanceFrom(ctx context.Context, from Phase) error {
	next, ok := from.Next()
	if !ok {
		log.Debug().Str("room_id", s.roomID).Str("phase", from.String()).Msg("no next phase")
		return nil
	}
	players, err := s.store.ListPlayers(ctx, s.roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Msg("host check failed")
		return unavailable("list players", err)
	}
	if !hostIn(players, s.playerID) {
		return ErrNotHost
	}
	return s.transition(ctx, from, next)
}

func (s *Session) transition(ctx context.Context, from, to Phase) error {
	if _, err := s.store.CompareAndSetPhase(ctx, s.roomID, from, to); err != nil {
		if errors.Is(err, ErrTransitionConflict) {
			log.Debug().
				Str("room_id", s.roomID).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("transition lost race")
			return nil
		}
		log.Error().Err(err).Str("room_id", s.roomID).Str("from", from.String()).Msg("phase write failed")
		return unavailable("set phase", err)
	}
	log.Info().
		Str("room_id", s.roomID).
		Str("player_id", s.playerID).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("phase advanced")
	return nil
}

// Phase returns the last phase this client observed.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room.Phase
}

// IsHost reports whether this client currently holds the host flag.
func (s *Session) IsHost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isHostLocked()
}

func (s *Session) isHostLocked() bool {
	return hostIn(s.players, s.playerID)
}

func hostIn(players []Player, playerID string) bool {
	for _, player := range players {
		if player.ID == playerID {
			return player.IsHost
		}
	}
	return false
}

func (s *Session) selfLocked() (Player, bool) {
	for _, player := range s.players {
		if player.ID == s.playerID {
			return player, true
		}
	}
	return Player{}, false
}

func (s *Session) upsertPlayerLocked(player Player) {
	for i := range s.players {
		if s.players[i].ID == player.ID {
			s.players[i] = player
			return
		}
	}
	s.players = append(s.players, player)
}

func (s *Session) removePlayerLocked(playerID string) {
	for i := range s.players {
		if s.players[i].ID == playerID {
			s.players = append(s.players[:i], s.players[i+1:]...)
			return
		}
	}
}

func (s *Session) loadRoles(ctx context.Context, scriptID string) {
	roles, err := s.store.ListRoles(ctx, scriptID)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Str("script_id", scriptID).Msg("load roles failed")
		return
	}
	s.mu.Lock()
	if s.room.ScriptID == scriptID {
		s.roles = roles
	}
	s.mu.Unlock()
}

func (s *Session) loadAnswer(ctx context.Context, scriptID string) {
	script, err := s.store.GetScript(ctx, scriptID)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Str("script_id", scriptID).Msg("load answer failed")
		return
	}
	s.mu.Lock()
	s.answer = script.Answer
	s.mu.Unlock()
}

// post sends a best-effort system message. Failures are logged and dropped.
func (s *Session) post(ctx context.Context, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), messageTimeout)
	defer cancel()
	if err := s.messenger.PostSystemMessage(ctx, s.roomID, text); err != nil {
		log.Warn().Err(err).Str("room_id", s.roomID).Msg("system message failed")
	}
}

// publish replaces whatever snapshot is waiting in updates. Taking the snapshot
// under pubmu keeps a slow publisher from overwriting a newer one.
func (s *Session) publish() {
	s.pubmu.Lock()
	defer s.pubmu.Unlock()
	snapshot := s.Snapshot()
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snapshot:
	default:
	}
}

type discardMessenger struct{}

func (discardMessenger) PostSystemMessage(context.Context, string, string) error {
	return nil
}
