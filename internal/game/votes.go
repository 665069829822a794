package game

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog/log"
)

// Tally is the aggregate of every ballot in a room. Ties are reported as
// several Leaders rather than broken arbitrarily.
type Tally struct {
	Counts    map[string]int `json:"counts"`
	Abstained int            `json:"abstained"`
	Cast      int            `json:"cast"`
	Leaders   []string       `json:"leaders,omitempty"`
	Top       int            `json:"top"`
}

// Plurality returns the single most-voted target. It is false when nobody was
// accused or the lead is shared.
func (t Tally) Plurality() (string, bool) {
	if len(t.Leaders) != 1 {
		return "", false
	}
	return t.Leaders[0], true
}

// Tied reports whether more than one target shares the lead.
func (t Tally) Tied() bool {
	return len(t.Leaders) > 1
}

func TallyVotes(votes []Vote) Tally {
	tally := Tally{Counts: make(map[string]int)}
	for _, vote := range votes {
		tally.Cast++
		if vote.Abstained() {
			tally.Abstained++
			continue
		}
		tally.Counts[vote.TargetID]++
	}
	for target, count := range tally.Counts {
		switch {
		case count > tally.Top:
			tally.Top = count
			tally.Leaders = []string{target}
		case count == tally.Top:
			tally.Leaders = append(tally.Leaders, target)
		}
	}
	sort.Strings(tally.Leaders)
	return tally
}

// VotingComplete reports whether every current player has a ballot on record.
// Ballots from players who have since left are not counted.
func VotingComplete(votes []Vote, players []Player) bool {
	if len(players) == 0 {
		return false
	}
	present := make(map[string]bool, len(players))
	for _, player := range players {
		present[player.ID] = false
	}
	for _, vote := range votes {
		if _, ok := present[vote.VoterID]; ok {
			present[vote.VoterID] = true
		}
	}
	for _, voted := range present {
		if !voted {
			return false
		}
	}
	return true
}

// CastVote records this player's ballot. An empty targetID abstains. The client
// that observes the final ballot attempts the conditional move to ended.
func (s *Session) CastVote(ctx context.Context, targetID string) error {
	s.mu.Lock()
	phase := s.room.Phase
	_, present := s.selfLocked()
	already := s.voted
	validTarget := targetID == ""
	for _, player := range s.players {
		if player.ID == targetID {
			validTarget = true
		}
	}
	closed := s.closed
	if phase == PhaseVoting && present && !already && validTarget && !closed {
		s.voted = true
	}
	s.mu.Unlock()

	switch {
	case closed:
		return ErrSessionClosed
	case phase != PhaseVoting:
		return ErrWrongPhase
	case !present:
		return ErrPlayerNotFound
	case already:
		return ErrDuplicateVote
	case !validTarget:
		return ErrInvalidVoteTarget
	}

	vote, err := s.store.InsertVote(ctx, Vote{
		RoomID:   s.roomID,
		VoterID:  s.playerID,
		TargetID: targetID,
		CastAt:   s.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateVote) {
			return err
		}
		s.mu.Lock()
		s.voted = false
		s.mu.Unlock()
		log.Error().Err(err).Str("room_id", s.roomID).Str("player_id", s.playerID).Msg("insert vote failed")
		return unavailable("insert vote", err)
	}

	s.mu.Lock()
	s.addVoteLocked(vote)
	s.mu.Unlock()
	log.Info().Str("room_id", s.roomID).Str("player_id", s.playerID).Bool("abstain", vote.Abstained()).Msg("vote cast")

	s.checkCompletion(ctx)
	s.publish()
	return nil
}

// checkCompletion re-reads ballots and players from the store and, when every
// player has voted, moves the room from voting to ended. Losing the race to
// another client is not an error.
func (s *Session) checkCompletion(ctx context.Context) {
	votes, err := s.store.ListVotes(ctx, s.roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Msg("list votes failed")
		return
	}
	players, err := s.store.ListPlayers(ctx, s.roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Msg("list players failed")
		return
	}
	if !VotingComplete(votes, players) {
		return
	}
	if err := s.transition(ctx, PhaseVoting, PhaseEnded); err != nil {
		log.Warn().Err(err).Str("room_id", s.roomID).Msg("end vote failed")
	}
}

func (s *Session) addVoteLocked(vote Vote) {
	for _, existing := range s.votes {
		if existing.VoterID == vote.VoterID {
			return
		}
	}
	s.votes = append(s.votes, vote)
	if vote.VoterID == s.playerID {
		s.voted = true
	}
}

// Tally aggregates the ballots this client has observed.
func (s *Session) Tally() Tally {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TallyVotes(s.votes)
}
