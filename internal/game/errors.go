package game

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrPlayerNotFound = errors.New("player not found")
	ErrRoleNotFound   = errors.New("role not found")
	ErrScriptNotFound = errors.New("script not found")

	ErrRoleAlreadyTaken   = errors.New("role already taken")
	ErrRoleAlreadyChosen  = errors.New("player already has a role")
	ErrTransitionConflict = errors.New("phase changed concurrently")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrDuplicateVote      = errors.New("vote already recorded")

	ErrNotHost           = errors.New("only the host can do that")
	ErrWrongPhase        = errors.New("not allowed in the current phase")
	ErrScriptNotReady    = errors.New("story has not been generated yet")
	ErrRolesPending      = errors.New("not every player has chosen a role")
	ErrInvalidVoteTarget = errors.New("vote target is not in this room")
	ErrSessionClosed     = errors.New("session closed")
)

// unavailable wraps a transport failure so callers can match ErrStoreUnavailable
// without losing the cause. Domain sentinels pass through untouched.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrRoomNotFound, ErrPlayerNotFound, ErrRoleNotFound, ErrScriptNotFound,
		ErrRoleAlreadyTaken, ErrRoleAlreadyChosen, ErrTransitionConflict,
		ErrDuplicateVote, ErrStoreUnavailable,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
