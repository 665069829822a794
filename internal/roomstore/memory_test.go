package roomstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murder-mystery/internal/game"
)

type recorder struct {
	mu      sync.Mutex
	changes []game.Change
}

func (r *recorder) add(change game.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *recorder) kinds() []game.ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]game.ChangeKind, 0, len(r.changes))
	for _, change := range r.changes {
		kinds = append(kinds, change.Kind)
	}
	return kinds
}

func (r *recorder) all() []game.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]game.Change(nil), r.changes...)
}

func newMemoryRoom(t *testing.T, names ...string) (*Memory, *clockwork.FakeClock, game.Room, []game.Player) {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC))
	store := NewMemory(clock)
	room, err := store.CreateRoom(ctx)
	require.NoError(t, err)
	var players []game.Player
	for _, name := range names {
		clock.Advance(time.Second)
		player, err := store.AddPlayer(ctx, room.ID, name)
		require.NoError(t, err)
		players = append(players, player)
	}
	return store, clock, room, players
}

func TestMemoryFirstPlayerHosts(t *testing.T) {
	store, _, room, players := newMemoryRoom(t, "Ada", "Bea")
	assert.True(t, players[0].IsHost)
	assert.False(t, players[1].IsHost)

	stored, err := store.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, players[0].ID, stored.HostPlayerID)
	assert.Equal(t, game.PhaseWaiting, stored.Phase)

	var texts []string
	for _, message := range store.Messages(room.ID) {
		assert.True(t, message.System)
		texts = append(texts, message.Text)
	}
	assert.Equal(t, []string{"Ada has created the room", "Bea has joined the room"}, texts)
}

func TestMemoryAddPlayerRejectsEndedRoom(t *testing.T) {
	ctx := context.Background()
	store, _, room, _ := newMemoryRoom(t, "Ada")
	_, err := store.CompareAndSetPhase(ctx, room.ID, game.PhaseWaiting, game.PhaseEnded)
	require.NoError(t, err)

	_, err = store.AddPlayer(ctx, room.ID, "Bea")
	assert.ErrorIs(t, err, game.ErrWrongPhase)
	players, err := store.ListPlayers(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, players, 1)
}

func TestMemoryCompareAndSetPhase(t *testing.T) {
	ctx := context.Background()
	store, _, room, _ := newMemoryRoom(t, "Ada")

	var rec recorder
	unsubscribe, err := store.Subscribe(ctx, room.ID, rec.add)
	require.NoError(t, err)
	defer unsubscribe()

	updated, err := store.CompareAndSetPhase(ctx, room.ID, game.PhaseWaiting, game.PhaseIntroduction)
	require.NoError(t, err)
	assert.Equal(t, game.PhaseIntroduction, updated.Phase)

	current, err := store.CompareAndSetPhase(ctx, room.ID, game.PhaseWaiting, game.PhaseIntroduction)
	assert.ErrorIs(t, err, game.ErrTransitionConflict)
	assert.Equal(t, game.PhaseIntroduction, current.Phase)

	assert.Equal(t, []game.ChangeKind{game.ChangeRoom}, rec.kinds())

	_, err = store.CompareAndSetPhase(ctx, "missing", game.PhaseWaiting, game.PhaseIntroduction)
	assert.ErrorIs(t, err, game.ErrRoomNotFound)
}

func TestMemoryStartTimerFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	store, clock, room, _ := newMemoryRoom(t, "Ada")

	first := clock.Now()
	start, created, err := store.StartTimer(ctx, room.ID, "investigation1", first)
	require.NoError(t, err)
	assert.True(t, created)

	start, created, err = store.StartTimer(ctx, room.ID, "investigation1", first.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, start.StartedAt.Equal(first))

	_, created, err = store.StartTimer(ctx, room.ID, "investigation2", first.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, created, "a later instance of the same phase kind gets its own slot")
}

func TestMemoryAssignRoleUniqueness(t *testing.T) {
	ctx := context.Background()
	store, _, room, players := newMemoryRoom(t, "Ada", "Bea")

	player, err := store.AssignRole(ctx, room.ID, players[0].ID, "role-1", "Butler")
	require.NoError(t, err)
	assert.Equal(t, "Butler", player.DisplayName)

	_, err = store.AssignRole(ctx, room.ID, players[1].ID, "role-1", "Butler")
	assert.ErrorIs(t, err, game.ErrRoleAlreadyTaken)

	_, err = store.AssignRole(ctx, room.ID, players[0].ID, "role-2", "Maid")
	assert.ErrorIs(t, err, game.ErrRoleAlreadyChosen)

	_, err = store.AssignRole(ctx, room.ID, "ghost", "role-2", "Maid")
	assert.ErrorIs(t, err, game.ErrPlayerNotFound)

	holder, found, err := store.FindRoleHolder(ctx, room.ID, "role-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, players[0].ID, holder.ID)
}

func TestMemoryConcurrentRoleClaims(t *testing.T) {
	ctx := context.Background()
	store, _, room, players := newMemoryRoom(t, "Ada", "Bea", "Cy", "Dee")

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for _, player := range players {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.AssignRole(ctx, room.ID, player.ID, "role-1", "Butler"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			} else if !errors.Is(err, game.ErrRoleAlreadyTaken) {
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestMemoryInsertVoteOncePerVoter(t *testing.T) {
	ctx := context.Background()
	store, _, room, players := newMemoryRoom(t, "Ada", "Bea")

	_, err := store.InsertVote(ctx, game.Vote{RoomID: room.ID, VoterID: players[0].ID, TargetID: players[1].ID})
	require.NoError(t, err)
	_, err = store.InsertVote(ctx, game.Vote{RoomID: room.ID, VoterID: players[0].ID})
	assert.ErrorIs(t, err, game.ErrDuplicateVote)

	votes, err := store.ListVotes(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.False(t, votes[0].CastAt.IsZero())
}

func TestMemoryRemovePlayerHandsOffHost(t *testing.T) {
	ctx := context.Background()
	store, _, room, players := newMemoryRoom(t, "Ada", "Bea", "Cy")

	var rec recorder
	unsubscribe, err := store.Subscribe(ctx, room.ID, rec.add)
	require.NoError(t, err)
	defer unsubscribe()

	departure, err := store.RemovePlayer(ctx, room.ID, players[0].ID)
	require.NoError(t, err)
	require.NotNil(t, departure.NewHost)
	assert.Equal(t, players[1].ID, departure.NewHost.ID, "earliest joined inherits")
	assert.False(t, departure.RoomClosed)

	remaining, err := store.ListPlayers(ctx, room.ID)
	require.NoError(t, err)
	hosts := 0
	for _, player := range remaining {
		if player.IsHost {
			hosts++
		}
	}
	assert.Equal(t, 1, hosts)
	assert.Equal(t, []game.ChangeKind{game.ChangePlayer, game.ChangePlayer, game.ChangeRoom}, rec.kinds())
	assert.True(t, rec.all()[0].Deleted)

	messages := store.Messages(room.ID)
	require.NotEmpty(t, messages)
	assert.Equal(t, "Ada has left the room", messages[len(messages)-1].Text)
}

func TestMemoryLastPlayerClosesRoom(t *testing.T) {
	ctx := context.Background()
	store, _, room, players := newMemoryRoom(t, "Ada")

	departure, err := store.RemovePlayer(ctx, room.ID, players[0].ID)
	require.NoError(t, err)
	assert.True(t, departure.RoomClosed)

	_, err = store.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, game.ErrRoomNotFound)
	_, err = store.RemovePlayer(ctx, room.ID, players[0].ID)
	assert.ErrorIs(t, err, game.ErrRoomNotFound)
}

func TestMemoryAttachScript(t *testing.T) {
	ctx := context.Background()
	store, _, room, _ := newMemoryRoom(t, "Ada")

	_, err := store.AttachScript(ctx, room.ID, "missing")
	assert.ErrorIs(t, err, game.ErrScriptNotFound)

	script, roles, err := store.SaveScript(ctx, game.Script{Title: "Manor"}, []game.Role{{Name: "Butler"}, {Name: "Maid"}})
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, script.ID, roles[1].ScriptID)

	updated, err := store.AttachScript(ctx, room.ID, script.ID)
	require.NoError(t, err)
	assert.Equal(t, script.ID, updated.ScriptID)

	listed, err := store.ListRoles(ctx, script.ID)
	require.NoError(t, err)
	assert.Equal(t, "Butler", listed[0].Name)
}

func TestMemoryAttachScriptOnlyBeforeRoleSelection(t *testing.T) {
	ctx := context.Background()
	store, _, room, players := newMemoryRoom(t, "Ada")
	first, roles, err := store.SaveScript(ctx, game.Script{Title: "Manor"}, []game.Role{{Name: "Butler"}})
	require.NoError(t, err)
	second, _, err := store.SaveScript(ctx, game.Script{Title: "Garden"}, []game.Role{{Name: "Gardener"}})
	require.NoError(t, err)

	_, err = store.CompareAndSetPhase(ctx, room.ID, game.PhaseWaiting, game.PhaseIntroduction)
	require.NoError(t, err)
	_, err = store.AttachScript(ctx, room.ID, first.ID)
	require.NoError(t, err)
	_, err = store.CompareAndSetPhase(ctx, room.ID, game.PhaseIntroduction, game.PhaseRoleSelection)
	require.NoError(t, err)
	_, err = store.AssignRole(ctx, room.ID, players[0].ID, roles[0].ID, "Ada")
	require.NoError(t, err)

	_, err = store.AttachScript(ctx, room.ID, second.ID)
	assert.ErrorIs(t, err, game.ErrWrongPhase)
	_, err = store.CompareAndSetPhase(ctx, room.ID, game.PhaseRoleSelection, game.PhaseDiscussion1)
	require.NoError(t, err)
	_, err = store.AttachScript(ctx, room.ID, second.ID)
	assert.ErrorIs(t, err, game.ErrWrongPhase)

	stored, err := store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ScriptID)
	held, ok, err := store.FindRoleHolder(ctx, room.ID, roles[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, players[0].ID, held.ID)
}

func TestMemoryFaultInjection(t *testing.T) {
	ctx := context.Background()
	store, _, room, _ := newMemoryRoom(t, "Ada")
	boom := errors.New("boom")
	store.SetFault(func(op string) error {
		if op == "get room" {
			return boom
		}
		return nil
	})
	_, err := store.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, boom)
	_, err = store.ListPlayers(ctx, room.ID)
	assert.NoError(t, err)
}

func TestMemoryUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	store, _, room, _ := newMemoryRoom(t, "Ada")

	var rec recorder
	unsubscribe, err := store.Subscribe(ctx, room.ID, rec.add)
	require.NoError(t, err)
	unsubscribe()

	_, err = store.CompareAndSetPhase(ctx, room.ID, game.PhaseWaiting, game.PhaseIntroduction)
	require.NoError(t, err)
	assert.Empty(t, rec.kinds())
}
