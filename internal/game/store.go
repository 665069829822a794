package game

import (
	"context"
	"time"
)

// Store is the shared record store every client of a room talks to. Writes that
// guard an invariant are conditional and report a lost race through the
// sentinel errors in errors.go rather than by overwriting.
type Store interface {
	GetRoom(ctx context.Context, roomID string) (Room, error)
	ListPlayers(ctx context.Context, roomID string) ([]Player, error)
	ListRoles(ctx context.Context, scriptID string) ([]Role, error)
	GetScript(ctx context.Context, scriptID string) (Script, error)

	// FindRoleHolder returns the player in the room currently holding roleID.
	FindRoleHolder(ctx context.Context, roomID, roleID string) (Player, bool, error)

	// CompareAndSetPhase writes to only if the stored phase still equals from.
	// A mismatch returns ErrTransitionConflict.
	CompareAndSetPhase(ctx context.Context, roomID string, from, to Phase) (Room, error)

	// StartTimer records at as the start of slot unless the slot is already set.
	// It returns the stored start and whether this call created it.
	StartTimer(ctx context.Context, roomID, slot string, at time.Time) (TimerStart, bool, error)

	// AssignRole sets the role of playerID only. It fails with
	// ErrRoleAlreadyTaken when another player in the room holds roleID and with
	// ErrRoleAlreadyChosen when the player already has a role.
	AssignRole(ctx context.Context, roomID, playerID, roleID, displayName string) (Player, error)

	// InsertVote appends a ballot; a second ballot by the same voter fails with
	// ErrDuplicateVote.
	InsertVote(ctx context.Context, vote Vote) (Vote, error)
	ListVotes(ctx context.Context, roomID string) ([]Vote, error)
}

// Notifier delivers committed changes for one room in commit order. fn may be
// invoked from any goroutine and must not block or call back into the store.
type Notifier interface {
	Subscribe(ctx context.Context, roomID string, fn func(Change)) (unsubscribe func(), err error)
}

// Messenger posts informational messages into the room chat. Delivery is best
// effort.
type Messenger interface {
	PostSystemMessage(ctx context.Context, roomID, text string) error
}
