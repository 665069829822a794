package roomstore

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"murder-mystery/internal/game"
)

// Memory is a process-local Backend. Subscribers are called synchronously, in
// commit order, while the store lock is held.
type Memory struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	rooms    map[string]*game.Room
	players  map[string][]game.Player
	scripts  map[string]game.Script
	roles    map[string][]game.Role
	votes    map[string][]game.Vote
	messages map[string][]Message
	fanout   *fanout
	fault    func(op string) error
}

func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:    clock,
		rooms:    make(map[string]*game.Room),
		players:  make(map[string][]game.Player),
		scripts:  make(map[string]game.Script),
		roles:    make(map[string][]game.Role),
		votes:    make(map[string][]game.Vote),
		messages: make(map[string][]Message),
		fanout:   newFanout(),
	}
}

// SetFault installs a hook consulted before every operation. A non-nil error
// is returned in place of the operation's result.
func (m *Memory) SetFault(fault func(op string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fault
}

func (m *Memory) check(op string) error {
	if m.fault == nil {
		return nil
	}
	return m.fault(op)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fanout = newFanout()
	return nil
}

func (m *Memory) Subscribe(_ context.Context, roomID string, fn func(game.Change)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("subscribe"); err != nil {
		return nil, err
	}
	return m.fanout.subscribe(roomID, fn), nil
}

func (m *Memory) emitLocked(change game.Change) {
	m.fanout.deliver(change)
}

func (m *Memory) roomChangeLocked(room *game.Room) game.Change {
	return game.Change{Kind: game.ChangeRoom, RoomID: room.ID, Room: copyRoom(room)}
}

func copyRoom(room *game.Room) game.Room {
	out := *room
	out.Timers = maps.Clone(room.Timers)
	return out
}

func (m *Memory) GetRoom(_ context.Context, roomID string) (game.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("get room"); err != nil {
		return game.Room{}, err
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return game.Room{}, game.ErrRoomNotFound
	}
	return copyRoom(room), nil
}

func (m *Memory) ListPlayers(_ context.Context, roomID string) ([]game.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("list players"); err != nil {
		return nil, err
	}
	return append([]game.Player(nil), m.players[roomID]...), nil
}

func (m *Memory) ListRoles(_ context.Context, scriptID string) ([]game.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("list roles"); err != nil {
		return nil, err
	}
	return append([]game.Role(nil), m.roles[scriptID]...), nil
}

func (m *Memory) GetScript(_ context.Context, scriptID string) (game.Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("get script"); err != nil {
		return game.Script{}, err
	}
	script, ok := m.scripts[scriptID]
	if !ok {
		return game.Script{}, game.ErrScriptNotFound
	}
	return script, nil
}

func (m *Memory) FindRoleHolder(_ context.Context, roomID, roleID string) (game.Player, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("find role holder"); err != nil {
		return game.Player{}, false, err
	}
	for _, player := range m.players[roomID] {
		if player.RoleID == roleID {
			return player, true, nil
		}
	}
	return game.Player{}, false, nil
}

func (m *Memory) CompareAndSetPhase(_ context.Context, roomID string, from, to game.Phase) (game.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("set phase"); err != nil {
		return game.Room{}, err
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return game.Room{}, game.ErrRoomNotFound
	}
	if room.Phase != from {
		return copyRoom(room), game.ErrTransitionConflict
	}
	room.Phase = to
	m.emitLocked(m.roomChangeLocked(room))
	return copyRoom(room), nil
}

func (m *Memory) StartTimer(_ context.Context, roomID, slot string, at time.Time) (game.TimerStart, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("start timer"); err != nil {
		return game.TimerStart{}, false, err
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return game.TimerStart{}, false, game.ErrRoomNotFound
	}
	if existing, set := room.TimerStart(slot); set {
		return game.TimerStart{Slot: slot, StartedAt: existing}, false, nil
	}
	if room.Timers == nil {
		room.Timers = make(map[string]time.Time)
	}
	room.Timers[slot] = at
	start := game.TimerStart{Slot: slot, StartedAt: at}
	m.emitLocked(game.Change{Kind: game.ChangeTimer, RoomID: roomID, Timer: start})
	return start, true, nil
}

func (m *Memory) AssignRole(_ context.Context, roomID, playerID, roleID, displayName string) (game.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("assign role"); err != nil {
		return game.Player{}, err
	}
	players := m.players[roomID]
	index := -1
	for i, player := range players {
		if player.ID == playerID {
			index = i
			continue
		}
		if player.RoleID == roleID {
			return game.Player{}, game.ErrRoleAlreadyTaken
		}
	}
	if index < 0 {
		return game.Player{}, game.ErrPlayerNotFound
	}
	if players[index].HasRole() {
		return game.Player{}, game.ErrRoleAlreadyChosen
	}
	players[index].RoleID = roleID
	if displayName != "" {
		players[index].DisplayName = displayName
	}
	updated := players[index]
	m.emitLocked(game.Change{Kind: game.ChangePlayer, RoomID: roomID, Player: updated})
	return updated, nil
}

func (m *Memory) InsertVote(_ context.Context, vote game.Vote) (game.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("insert vote"); err != nil {
		return game.Vote{}, err
	}
	if _, ok := m.rooms[vote.RoomID]; !ok {
		return game.Vote{}, game.ErrRoomNotFound
	}
	for _, existing := range m.votes[vote.RoomID] {
		if existing.VoterID == vote.VoterID {
			return game.Vote{}, game.ErrDuplicateVote
		}
	}
	if vote.CastAt.IsZero() {
		vote.CastAt = m.clock.Now()
	}
	m.votes[vote.RoomID] = append(m.votes[vote.RoomID], vote)
	m.emitLocked(game.Change{Kind: game.ChangeVote, RoomID: vote.RoomID, Vote: vote})
	return vote, nil
}

func (m *Memory) ListVotes(_ context.Context, roomID string) ([]game.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("list votes"); err != nil {
		return nil, err
	}
	return append([]game.Vote(nil), m.votes[roomID]...), nil
}

func (m *Memory) PostSystemMessage(_ context.Context, roomID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("post message"); err != nil {
		return err
	}
	m.postLocked(roomID, text)
	return nil
}

func (m *Memory) postLocked(roomID, text string) {
	m.messages[roomID] = append(m.messages[roomID], Message{
		RoomID:   roomID,
		Text:     text,
		System:   true,
		PostedAt: m.clock.Now(),
	})
}

// Messages returns the chat log of a room in posting order.
func (m *Memory) Messages(roomID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages[roomID]...)
}

func (m *Memory) CreateRoom(_ context.Context) (game.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("create room"); err != nil {
		return game.Room{}, err
	}
	room := &game.Room{
		ID:     uuid.NewString(),
		Phase:  game.PhaseWaiting,
		Timers: make(map[string]time.Time),
	}
	m.rooms[room.ID] = room
	return copyRoom(room), nil
}

func (m *Memory) AddPlayer(_ context.Context, roomID, displayName string) (game.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("add player"); err != nil {
		return game.Player{}, err
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return game.Player{}, game.ErrRoomNotFound
	}
	if room.Phase.Terminal() {
		return game.Player{}, game.ErrWrongPhase
	}
	player := game.Player{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		DisplayName: displayName,
		IsHost:      len(m.players[roomID]) == 0,
		JoinedAt:    m.clock.Now(),
	}
	m.players[roomID] = append(m.players[roomID], player)
	m.emitLocked(game.Change{Kind: game.ChangePlayer, RoomID: roomID, Player: player})
	if player.IsHost {
		room.HostPlayerID = player.ID
		m.emitLocked(m.roomChangeLocked(room))
	}
	m.postLocked(roomID, joinMessage(player.DisplayName, player.IsHost))
	return player, nil
}

func (m *Memory) RemovePlayer(_ context.Context, roomID, playerID string) (Departure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("remove player"); err != nil {
		return Departure{}, err
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return Departure{}, game.ErrRoomNotFound
	}
	players := m.players[roomID]
	index := -1
	for i, player := range players {
		if player.ID == playerID {
			index = i
			break
		}
	}
	if index < 0 {
		return Departure{}, game.ErrPlayerNotFound
	}
	departure := Departure{Player: players[index]}
	players = append(players[:index], players[index+1:]...)
	m.players[roomID] = players
	m.emitLocked(game.Change{Kind: game.ChangePlayer, RoomID: roomID, Deleted: true, Player: departure.Player})

	if len(players) == 0 {
		delete(m.rooms, roomID)
		delete(m.players, roomID)
		delete(m.votes, roomID)
		departure.RoomClosed = true
		m.emitLocked(game.Change{Kind: game.ChangeRoom, RoomID: roomID, Deleted: true, Room: game.Room{ID: roomID}})
		return departure, nil
	}

	if departure.Player.IsHost {
		next := 0
		for i := range players {
			if players[i].JoinedAt.Before(players[next].JoinedAt) {
				next = i
			}
		}
		players[next].IsHost = true
		host := players[next]
		departure.NewHost = &host
		room.HostPlayerID = host.ID
		m.emitLocked(game.Change{Kind: game.ChangePlayer, RoomID: roomID, Player: host})
		m.emitLocked(m.roomChangeLocked(room))
	}
	m.postLocked(roomID, leaveMessage(departure.Player.DisplayName))
	return departure, nil
}

func (m *Memory) SaveScript(_ context.Context, script game.Script, roles []game.Role) (game.Script, []game.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("save script"); err != nil {
		return game.Script{}, nil, err
	}
	if script.ID == "" {
		script.ID = uuid.NewString()
	}
	saved := make([]game.Role, 0, len(roles))
	for _, role := range roles {
		if role.ID == "" {
			role.ID = uuid.NewString()
		}
		role.ScriptID = script.ID
		saved = append(saved, role)
	}
	m.scripts[script.ID] = script
	m.roles[script.ID] = saved
	return script, append([]game.Role(nil), saved...), nil
}

func (m *Memory) AttachScript(_ context.Context, roomID, scriptID string) (game.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("attach script"); err != nil {
		return game.Room{}, err
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return game.Room{}, game.ErrRoomNotFound
	}
	if !scriptAttachable(room.Phase) {
		return game.Room{}, game.ErrWrongPhase
	}
	if _, ok := m.scripts[scriptID]; !ok {
		return game.Room{}, game.ErrScriptNotFound
	}
	room.ScriptID = scriptID
	m.emitLocked(m.roomChangeLocked(room))
	return copyRoom(room), nil
}
