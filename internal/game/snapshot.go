package game

// Snapshot is the read-only view a client renders. Role secrets never appear in
// Roles; only the caller's own role is exposed in full.
type Snapshot struct {
	RoomID      string     `json:"room_id"`
	PlayerID    string     `json:"player_id"`
	Phase       Phase      `json:"phase"`
	IsHost      bool       `json:"is_host"`
	Closed      bool       `json:"closed,omitempty"`
	Players     []Player   `json:"players"`
	Roles       []RoleCard `json:"roles,omitempty"`
	MyRole      *Role      `json:"my_role,omitempty"`
	AllSelected bool       `json:"all_selected"`
	Timer       *TimerView `json:"timer,omitempty"`
	Voted       bool       `json:"voted"`
	VotesCast   int        `json:"votes_cast"`
	Tally       *Tally     `json:"tally,omitempty"`
	Answer      string     `json:"answer,omitempty"`
	CanAdvance  bool       `json:"can_advance"`
}

type RoleCard struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PublicInfo string `json:"public_info"`
	TakenBy    string `json:"taken_by,omitempty"`
}

type TimerView struct {
	Slot      string `json:"slot"`
	Started   bool   `json:"started"`
	Remaining int    `json:"remaining_seconds"`
	Duration  int    `json:"duration_seconds"`
}

func (s *Session) Snapshot() Snapshot {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	host := s.isHostLocked()
	snapshot := Snapshot{
		RoomID:      s.roomID,
		PlayerID:    s.playerID,
		Phase:       s.room.Phase,
		IsHost:      host,
		Closed:      s.closed,
		Players:     append([]Player(nil), s.players...),
		AllSelected: AllSelected(s.players),
		Voted:       s.voted,
		VotesCast:   len(s.votes),
		CanAdvance:  host && !s.closed && s.advanceGateLocked(s.room.Phase) == nil,
	}

	taken := TakenRoles(s.players)
	for _, role := range s.roles {
		snapshot.Roles = append(snapshot.Roles, RoleCard{
			ID:         role.ID,
			Name:       role.Name,
			PublicInfo: role.PublicInfo,
			TakenBy:    taken[role.ID],
		})
	}
	if self, ok := s.selfLocked(); ok && self.HasRole() {
		if role, ok := s.roleLocked(self.RoleID); ok {
			snapshot.MyRole = &role
		}
	}

	if countdown, running := s.countdownLocked(); countdown.Slot != "" {
		view := &TimerView{
			Slot:     countdown.Slot,
			Started:  running,
			Duration: int(countdown.Duration.Seconds()),
		}
		if running {
			view.Remaining = countdown.Seconds(now)
		} else {
			view.Remaining = view.Duration
		}
		snapshot.Timer = view
	}

	if s.room.Phase == PhaseEnded {
		tally := TallyVotes(s.votes)
		snapshot.Tally = &tally
		snapshot.Answer = s.answer
	}
	return snapshot
}
