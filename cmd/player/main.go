package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"murder-mystery/internal/config"
	"murder-mystery/internal/game"
	"murder-mystery/internal/logging"
	"murder-mystery/internal/roomstore"
)

func main() {
	roomID := flag.String("room", "", "room to join; empty creates a new room")
	playerID := flag.String("player", "", "rejoin as an existing player")
	name := flag.String("name", "", "display name when joining")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Warn().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)
	if strings.EqualFold(cfg.NotifyBackend, "memory") {
		log.Fatal().Msg("the player client needs a shared store, set NOTIFY_BACKEND")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	backend, err := roomstore.Open(ctx, cfg, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("store setup failed")
	}
	defer backend.Close()

	room, player, err := enter(ctx, backend, *roomID, *playerID, *name)
	if err != nil {
		log.Fatal().Err(err).Msg("could not enter room")
	}
	fmt.Printf("room %s, you are %s (%s)\n", room, player.DisplayName, player.ID)

	session, err := game.NewSession(game.Config{
		RoomID:    room,
		PlayerID:  player.ID,
		Store:     backend,
		Notifier:  backend,
		Messenger: backend,
		Clock:     clock,
		Durations: game.Durations{
			Investigation: cfg.InvestigationDuration(),
			Discussion:    cfg.DiscussionDuration(),
		},
		Tick: cfg.Tick(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("session setup failed")
	}

	c := &client{session: session, backend: backend, out: os.Stdout}
	if err := c.run(ctx, os.Stdin); err != nil && !errors.Is(err, errQuit) {
		log.Error().Err(err).Msg("session ended")
	}
}

// enter resolves the participant: rejoin by id, join an existing room, or
// create a fresh room as its host.
func enter(ctx context.Context, backend roomstore.Backend, roomID, playerID, name string) (string, game.Player, error) {
	if playerID != "" {
		players, err := backend.ListPlayers(ctx, roomID)
		if err != nil {
			return "", game.Player{}, err
		}
		for _, player := range players {
			if player.ID == playerID {
				return roomID, player, nil
			}
		}
		return "", game.Player{}, game.ErrPlayerNotFound
	}
	if strings.TrimSpace(name) == "" {
		return "", game.Player{}, errors.New("-name is required to join")
	}
	if roomID == "" {
		room, err := backend.CreateRoom(ctx)
		if err != nil {
			return "", game.Player{}, err
		}
		roomID = room.ID
	}
	player, err := backend.AddPlayer(ctx, roomID, strings.TrimSpace(name))
	return roomID, player, err
}

var errQuit = errors.New("quit")

type client struct {
	session *game.Session
	backend roomstore.Backend
	out     io.Writer
	last    game.Snapshot
}

func (c *client) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.session.Run(ctx)
	}()

	lines := readLines(ctx, in)

	fmt.Fprintln(c.out, helpText)
	for {
		select {
		case err := <-done:
			if errors.Is(err, game.ErrRoomNotFound) {
				fmt.Fprintln(c.out, "the room has closed")
				return nil
			}
			return err
		case snapshot := <-c.session.Updates():
			if changed(c.last, snapshot) {
				render(c.out, snapshot)
			}
			c.last = snapshot
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := parseCommand(line, c.last)
			if err != nil {
				fmt.Fprintln(c.out, err)
				continue
			}
			if err := c.execute(ctx, cmd); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				fmt.Fprintln(c.out, "!", err)
			}
		}
	}
}

// readLines streams input lines until in is exhausted or ctx is done.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func (c *client) execute(ctx context.Context, cmd playerCommand) error {
	switch cmd.kind {
	case cmdHelp:
		fmt.Fprintln(c.out, helpText)
	case cmdStatus:
		render(c.out, c.session.Snapshot())
	case cmdStart:
		return c.session.Start(ctx)
	case cmdAdvance:
		return c.session.Advance(ctx)
	case cmdPick:
		return c.session.SelectRole(ctx, cmd.arg)
	case cmdVote:
		return c.session.CastVote(ctx, cmd.arg)
	case cmdTally:
		renderTally(c.out, c.session.Snapshot())
	case cmdLeave:
		snapshot := c.session.Snapshot()
		if _, err := c.backend.RemovePlayer(ctx, snapshot.RoomID, snapshot.PlayerID); err != nil {
			return err
		}
		return errQuit
	case cmdQuit:
		return errQuit
	}
	return nil
}
