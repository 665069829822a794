package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// AllSelected reports whether a non-empty room has every player holding a role.
func AllSelected(players []Player) bool {
	if len(players) == 0 {
		return false
	}
	for _, player := range players {
		if !player.HasRole() {
			return false
		}
	}
	return true
}

// TakenRoles maps role id to the id of the player holding it.
func TakenRoles(players []Player) map[string]string {
	taken := make(map[string]string, len(players))
	for _, player := range players {
		if player.HasRole() {
			taken[player.RoleID] = player.ID
		}
	}
	return taken
}

// SelectRole claims roleID for this client's player. The local view is only a
// first filter; the store rechecks and the write itself is guarded, so two
// clients racing for one role end with exactly one holder.
func (s *Session) SelectRole(ctx context.Context, roleID string) error {
	s.mu.Lock()
	phase := s.room.Phase
	self, present := s.selfLocked()
	role, known := s.roleLocked(roleID)
	holder, taken := TakenRoles(s.players)[roleID]
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return ErrSessionClosed
	}
	if phase != PhaseRoleSelection {
		return ErrWrongPhase
	}
	if !present {
		return ErrPlayerNotFound
	}
	if self.HasRole() {
		return ErrRoleAlreadyChosen
	}
	if !known {
		return ErrRoleNotFound
	}
	if taken && holder != s.playerID {
		return ErrRoleAlreadyTaken
	}

	current, found, err := s.store.FindRoleHolder(ctx, s.roomID, roleID)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Str("role_id", roleID).Msg("role holder check failed")
		return unavailable("find role holder", err)
	}
	if found && current.ID != s.playerID {
		return ErrRoleAlreadyTaken
	}

	updated, err := s.store.AssignRole(ctx, s.roomID, s.playerID, roleID, role.Name)
	if err != nil {
		if errors.Is(err, ErrRoleAlreadyTaken) || errors.Is(err, ErrRoleAlreadyChosen) {
			log.Debug().Err(err).Str("room_id", s.roomID).Str("role_id", roleID).Msg("role claim rejected")
			return err
		}
		log.Error().Err(err).Str("room_id", s.roomID).Str("role_id", roleID).Msg("assign role failed")
		return unavailable("assign role", err)
	}

	s.mu.Lock()
	s.upsertPlayerLocked(updated)
	s.mu.Unlock()
	log.Info().
		Str("room_id", s.roomID).
		Str("player_id", s.playerID).
		Str("role_id", roleID).
		Msg("role selected")

	s.post(ctx, fmt.Sprintf("%s has chosen %s", self.DisplayName, role.Name))
	s.publish()
	return nil
}

func (s *Session) roleLocked(roleID string) (Role, bool) {
	for _, role := range s.roles {
		if role.ID == roleID {
			return role, true
		}
	}
	return Role{}, false
}
