package game

import (
	"testing"
	"time"
)

func TestPhaseSequence(t *testing.T) {
	var walked []string
	phase := PhaseWaiting
	for {
		walked = append(walked, phase.String())
		next, ok := phase.Next()
		if !ok {
			break
		}
		if !next.After(phase) {
			t.Fatalf("expected %s after %s", next, phase)
		}
		phase = next
	}
	expected := []string{
		"waiting", "introduction", "role_selection", "narrative1", "investigation1",
		"discussion1", "narrative2", "investigation2", "discussion2", "voting", "ended",
	}
	if len(walked) != len(expected) {
		t.Fatalf("expected %d phases, got %v", len(expected), walked)
	}
	for i := range expected {
		if walked[i] != expected[i] {
			t.Fatalf("expected %s at %d, got %s", expected[i], i, walked[i])
		}
	}
	if !phase.Terminal() {
		t.Fatalf("expected %s to be terminal", phase)
	}
}

func TestPhaseTextRoundTrip(t *testing.T) {
	for _, phase := range sequence {
		text, err := phase.MarshalText()
		if err != nil {
			t.Fatalf("marshal %s: %v", phase, err)
		}
		var parsed Phase
		if err := parsed.UnmarshalText(text); err != nil {
			t.Fatalf("unmarshal %s: %v", text, err)
		}
		if parsed != phase {
			t.Fatalf("expected %s, got %s", phase, parsed)
		}
	}
	if _, err := ParsePhase("lobby"); err == nil {
		t.Fatalf("expected unknown phase error")
	}
	if _, err := Phase(42).MarshalText(); err == nil {
		t.Fatalf("expected error for out of range phase")
	}
}

func TestTimerSlotsAreDistinctPerInstance(t *testing.T) {
	seen := map[string]Phase{}
	for _, phase := range sequence {
		slot, ok := TimerSlot(phase)
		if !ok {
			if DefaultDurations().For(phase) != 0 {
				t.Fatalf("expected no duration for untimed %s", phase)
			}
			continue
		}
		if other, dup := seen[slot]; dup {
			t.Fatalf("slot %s shared by %s and %s", slot, other, phase)
		}
		seen[slot] = phase
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 timed phases, got %d", len(seen))
	}
}

func TestCountdownRemaining(t *testing.T) {
	start := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)
	countdown := Countdown{Slot: "investigation1", StartedAt: start, Duration: 300 * time.Second}

	if got := countdown.Seconds(start); got != 300 {
		t.Fatalf("expected 300, got %d", got)
	}
	if got := countdown.Seconds(start.Add(100*time.Second + 500*time.Millisecond)); got != 199 {
		t.Fatalf("expected 199, got %d", got)
	}
	if countdown.Expired(start.Add(299 * time.Second)) {
		t.Fatalf("expected countdown running at 299s")
	}
	if !countdown.Expired(start.Add(300 * time.Second)) {
		t.Fatalf("expected countdown expired at 300s")
	}
	if got := countdown.Remaining(start.Add(time.Hour)); got != 0 {
		t.Fatalf("expected remaining clamped to 0, got %s", got)
	}
}

func TestTallyVotes(t *testing.T) {
	tally := TallyVotes([]Vote{
		{VoterID: "a", TargetID: "c"},
		{VoterID: "b", TargetID: "c"},
		{VoterID: "c"},
		{VoterID: "d", TargetID: "a"},
	})
	if tally.Cast != 4 || tally.Abstained != 1 {
		t.Fatalf("expected 4 cast 1 abstained, got %+v", tally)
	}
	winner, ok := tally.Plurality()
	if !ok || winner != "c" || tally.Top != 2 {
		t.Fatalf("expected c with 2, got %q %v %d", winner, ok, tally.Top)
	}

	tied := TallyVotes([]Vote{
		{VoterID: "a", TargetID: "b"},
		{VoterID: "b", TargetID: "a"},
	})
	if !tied.Tied() {
		t.Fatalf("expected a tie, got %+v", tied)
	}
	if _, ok := tied.Plurality(); ok {
		t.Fatalf("expected no plurality on a tie")
	}
	if tied.Leaders[0] != "a" || tied.Leaders[1] != "b" {
		t.Fatalf("expected sorted leaders, got %v", tied.Leaders)
	}

	empty := TallyVotes([]Vote{{VoterID: "a"}})
	if len(empty.Leaders) != 0 || empty.Top != 0 {
		t.Fatalf("expected no leaders for all abstentions, got %+v", empty)
	}
}

func TestVotingComplete(t *testing.T) {
	players := []Player{{ID: "a"}, {ID: "b"}}
	if VotingComplete(nil, nil) {
		t.Fatalf("expected empty room to never complete")
	}
	if VotingComplete([]Vote{{VoterID: "a"}, {VoterID: "gone"}}, players) {
		t.Fatalf("expected departed voter not to count")
	}
	if !VotingComplete([]Vote{{VoterID: "a"}, {VoterID: "b", TargetID: "a"}}, players) {
		t.Fatalf("expected complete")
	}
}

func TestAllSelected(t *testing.T) {
	if AllSelected(nil) {
		t.Fatalf("expected false for empty room")
	}
	players := []Player{{ID: "a", RoleID: "r1"}, {ID: "b"}}
	if AllSelected(players) {
		t.Fatalf("expected false with an unassigned player")
	}
	players[1].RoleID = "r2"
	if !AllSelected(players) {
		t.Fatalf("expected true")
	}
	taken := TakenRoles(players)
	if taken["r1"] != "a" || taken["r2"] != "b" {
		t.Fatalf("unexpected taken map %v", taken)
	}
}
