package game

import (
	"fmt"
	"time"
)

// Phase is one stage of the fixed game sequence.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseIntroduction
	PhaseRoleSelection
	PhaseNarrative1
	PhaseInvestigation1
	PhaseDiscussion1
	PhaseNarrative2
	PhaseInvestigation2
	PhaseDiscussion2
	PhaseVoting
	PhaseEnded
)

// sequence is the total order every room walks through. Index in this table is
// the only notion of "later" the package uses.
var sequence = []Phase{
	PhaseWaiting,
	PhaseIntroduction,
	PhaseRoleSelection,
	PhaseNarrative1,
	PhaseInvestigation1,
	PhaseDiscussion1,
	PhaseNarrative2,
	PhaseInvestigation2,
	PhaseDiscussion2,
	PhaseVoting,
	PhaseEnded,
}

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseIntroduction:
		return "introduction"
	case PhaseRoleSelection:
		return "role_selection"
	case PhaseNarrative1:
		return "narrative1"
	case PhaseInvestigation1:
		return "investigation1"
	case PhaseDiscussion1:
		return "discussion1"
	case PhaseNarrative2:
		return "narrative2"
	case PhaseInvestigation2:
		return "investigation2"
	case PhaseDiscussion2:
		return "discussion2"
	case PhaseVoting:
		return "voting"
	case PhaseEnded:
		return "ended"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ParsePhase maps a stored phase name back to its Phase.
func ParsePhase(name string) (Phase, error) {
	for _, p := range sequence {
		if p.String() == name {
			return p, nil
		}
	}
	return PhaseWaiting, fmt.Errorf("unknown phase %q", name)
}

func (p Phase) MarshalText() ([]byte, error) {
	if p.index() < 0 {
		return nil, fmt.Errorf("unknown phase %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Phase) index() int {
	for i, candidate := range sequence {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is part of the sequence.
func (p Phase) Valid() bool {
	return p.index() >= 0
}

// Next returns the phase that follows p. Terminal or unknown phases have no
// successor.
func (p Phase) Next() (Phase, bool) {
	i := p.index()
	if i < 0 || i >= len(sequence)-1 {
		return p, false
	}
	return sequence[i+1], true
}

// Terminal reports whether p is the final phase.
func (p Phase) Terminal() bool {
	return p == sequence[len(sequence)-1]
}

// After reports whether p comes strictly later than q in the sequence.
func (p Phase) After(q Phase) bool {
	return p.index() > q.index()
}

// TimerSlot names the persisted countdown slot used by a timed phase. Slots are
// keyed per phase instance so investigation1 and investigation2 never share an
// origin.
func TimerSlot(p Phase) (string, bool) {
	switch p {
	case PhaseInvestigation1, PhaseInvestigation2, PhaseDiscussion1, PhaseDiscussion2:
		return p.String(), true
	case PhaseWaiting, PhaseIntroduction, PhaseRoleSelection, PhaseNarrative1,
		PhaseNarrative2, PhaseVoting, PhaseEnded:
		return "", false
	default:
		return "", false
	}
}

// Durations holds the countdown length of each timed phase kind.
type Durations struct {
	Investigation time.Duration
	Discussion    time.Duration
}

// DefaultDurations mirrors the config defaults.
func DefaultDurations() Durations {
	return Durations{
		Investigation: 300 * time.Second,
		Discussion:    300 * time.Second,
	}
}

// For returns the countdown length for p, or zero for untimed phases.
func (d Durations) For(p Phase) time.Duration {
	switch p {
	case PhaseInvestigation1, PhaseInvestigation2:
		return d.Investigation
	case PhaseDiscussion1, PhaseDiscussion2:
		return d.Discussion
	case PhaseWaiting, PhaseIntroduction, PhaseRoleSelection, PhaseNarrative1,
		PhaseNarrative2, PhaseVoting, PhaseEnded:
		return 0
	default:
		return 0
	}
}

// entryAnnouncement is the system message the host posts when the room first
// enters p.
func entryAnnouncement(p Phase) (string, bool) {
	switch p {
	case PhaseRoleSelection:
		return "The story is ready. Choose your characters.", true
	case PhaseDiscussion1, PhaseDiscussion2:
		return "Investigation is over. Time to discuss what you found.", true
	case PhaseVoting:
		return "Discussion is over. Cast your votes.", true
	case PhaseEnded:
		return "All votes are in. The truth is revealed.", true
	case PhaseWaiting, PhaseIntroduction, PhaseNarrative1, PhaseInvestigation1,
		PhaseNarrative2, PhaseInvestigation2:
		return "", false
	default:
		return "", false
	}
}
