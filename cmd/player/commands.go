package main

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"murder-mystery/internal/game"
)

const helpText = `commands: start | next | pick <n> | vote <n> | abstain | tally | status | leave | quit`

type commandKind int

const (
	cmdHelp commandKind = iota
	cmdStatus
	cmdStart
	cmdAdvance
	cmdPick
	cmdVote
	cmdTally
	cmdLeave
	cmdQuit
)

type playerCommand struct {
	kind commandKind
	arg  string
}

// parseCommand turns a typed line into a command. Roles and vote targets are
// chosen by their 1-based position in the last rendered snapshot.
func parseCommand(line string, snapshot game.Snapshot) (playerCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return playerCommand{kind: cmdStatus}, nil
	}
	switch strings.ToLower(fields[0]) {
	case "help", "?":
		return playerCommand{kind: cmdHelp}, nil
	case "status":
		return playerCommand{kind: cmdStatus}, nil
	case "start":
		return playerCommand{kind: cmdStart}, nil
	case "next", "advance":
		return playerCommand{kind: cmdAdvance}, nil
	case "pick":
		index, err := position(fields, len(snapshot.Roles))
		if err != nil {
			return playerCommand{}, err
		}
		return playerCommand{kind: cmdPick, arg: snapshot.Roles[index].ID}, nil
	case "vote":
		index, err := position(fields, len(snapshot.Players))
		if err != nil {
			return playerCommand{}, err
		}
		return playerCommand{kind: cmdVote, arg: snapshot.Players[index].ID}, nil
	case "abstain":
		return playerCommand{kind: cmdVote}, nil
	case "tally":
		return playerCommand{kind: cmdTally}, nil
	case "leave":
		return playerCommand{kind: cmdLeave}, nil
	case "quit", "exit":
		return playerCommand{kind: cmdQuit}, nil
	}
	return playerCommand{}, fmt.Errorf("unknown command %q, try help", fields[0])
}

func position(fields []string, count int) (int, error) {
	if len(fields) < 2 {
		return 0, errors.New("which one? give its number")
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 1 || n > count {
		return 0, fmt.Errorf("pick a number between 1 and %d", count)
	}
	return n - 1, nil
}

// changed reports whether a snapshot differs from the previous one in
// anything but the countdown.
func changed(prev, next game.Snapshot) bool {
	if prev.Phase != next.Phase || prev.IsHost != next.IsHost || prev.Closed != next.Closed {
		return true
	}
	if prev.AllSelected != next.AllSelected || prev.VotesCast != next.VotesCast || prev.Answer != next.Answer {
		return true
	}
	if (prev.Timer == nil) != (next.Timer == nil) || (prev.Timer != nil && prev.Timer.Started != next.Timer.Started) {
		return true
	}
	if !slices.Equal(prev.Players, next.Players) {
		return true
	}
	return !slices.Equal(prev.Roles, next.Roles)
}

func render(w io.Writer, snapshot game.Snapshot) {
	host := ""
	if snapshot.IsHost {
		host = " (host)"
	}
	fmt.Fprintf(w, "\n== %s%s ==\n", snapshot.Phase, host)
	if timer := snapshot.Timer; timer != nil {
		if timer.Started {
			fmt.Fprintf(w, "time left: %d:%02d\n", timer.Remaining/60, timer.Remaining%60)
		} else {
			fmt.Fprintf(w, "timer: waiting for host (%ds)\n", timer.Duration)
		}
	}
	fmt.Fprintln(w, "players:")
	for i, player := range snapshot.Players {
		marks := ""
		if player.IsHost {
			marks += " *"
		}
		if player.ID == snapshot.PlayerID {
			marks += " (you)"
		}
		fmt.Fprintf(w, "  %d. %s%s\n", i+1, player.DisplayName, marks)
	}
	if len(snapshot.Roles) > 0 && snapshot.Phase == game.PhaseRoleSelection {
		fmt.Fprintln(w, "roles:")
		for i, role := range snapshot.Roles {
			status := "free"
			if role.TakenBy != "" {
				status = "taken"
			}
			fmt.Fprintf(w, "  %d. %s [%s] %s\n", i+1, role.Name, status, role.PublicInfo)
		}
	}
	if role := snapshot.MyRole; role != nil {
		fmt.Fprintf(w, "you play %s\n  secret: %s\n  mission: %s\n", role.Name, role.Secret, role.Mission)
	}
	if snapshot.Phase == game.PhaseVoting {
		fmt.Fprintf(w, "votes cast: %d/%d\n", snapshot.VotesCast, len(snapshot.Players))
	}
	if snapshot.Phase == game.PhaseEnded {
		renderTally(w, snapshot)
	}
}

func renderTally(w io.Writer, snapshot game.Snapshot) {
	if snapshot.Tally == nil {
		fmt.Fprintf(w, "votes cast: %d, results after voting ends\n", snapshot.VotesCast)
		return
	}
	names := make(map[string]string, len(snapshot.Players))
	for _, player := range snapshot.Players {
		names[player.ID] = player.DisplayName
	}
	label := func(id string) string {
		if name, ok := names[id]; ok {
			return name
		}
		return "someone who left"
	}
	tally := *snapshot.Tally
	fmt.Fprintf(w, "results (%d ballots, %d abstained):\n", tally.Cast, tally.Abstained)
	for id, count := range tally.Counts {
		fmt.Fprintf(w, "  %s: %d\n", label(id), count)
	}
	switch culprit, ok := tally.Plurality(); {
	case ok:
		fmt.Fprintf(w, "accused: %s\n", label(culprit))
	case tally.Tied():
		leaders := make([]string, 0, len(tally.Leaders))
		for _, id := range tally.Leaders {
			leaders = append(leaders, label(id))
		}
		fmt.Fprintf(w, "tie between %s\n", strings.Join(leaders, " and "))
	default:
		fmt.Fprintln(w, "nobody was accused")
	}
	if snapshot.Answer != "" {
		fmt.Fprintf(w, "the truth: %s\n", snapshot.Answer)
	}
}
