package roomstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"murder-mystery/internal/db"
	"murder-mystery/internal/game"
)

type ListenerConfig struct {
	DatabaseURL   string
	NotifyChannel string
	PingInterval  time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: "room_changes",
		PingInterval:  90 * time.Second,
	}
}

// PGListener turns Postgres NOTIFY payloads written by the room triggers into
// per-room change streams. One connection serves every room in the process.
type PGListener struct {
	listener *pq.Listener
	cfg      ListenerConfig
	fanout   *fanout
}

func NewPGListener(cfg ListenerConfig) (*PGListener, error) {
	if cfg.NotifyChannel == "" {
		cfg.NotifyChannel = DefaultListenerConfig().NotifyChannel
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultListenerConfig().PingInterval
	}
	l := &PGListener{cfg: cfg, fanout: newFanout()}
	l.listener = pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
			if ev == pq.ListenerEventReconnected {
				// anything sent while we were disconnected is gone
				l.fanout.broadcast(game.ChangeResync)
			}
		},
	)
	if err := l.listener.Listen(cfg.NotifyChannel); err != nil {
		_ = l.listener.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}
	log.Info().Str("channel", cfg.NotifyChannel).Msg("listening for notifications")
	return l, nil
}

// Run dispatches notifications until ctx is done.
func (l *PGListener) Run(ctx context.Context) error {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("channel", l.cfg.NotifyChannel).Msg("listener shutting down")
			return nil
		case note := <-l.listener.Notify:
			if note == nil {
				continue
			}
			change, err := decodeNotification([]byte(note.Extra))
			if err != nil {
				log.Error().Err(err).Msg("failed to decode notification")
				continue
			}
			l.fanout.deliver(change)
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *PGListener) Subscribe(_ context.Context, roomID string, fn func(game.Change)) (func(), error) {
	return l.fanout.subscribe(roomID, fn), nil
}

func (l *PGListener) Close() error {
	return l.listener.Close()
}

type notification struct {
	Table  string          `json:"table"`
	Op     string          `json:"op"`
	RoomID string          `json:"room_id"`
	Record json.RawMessage `json:"record"`
}

// decodeNotification parses a payload built by notify_room_change().
func decodeNotification(payload []byte) (game.Change, error) {
	var note notification
	if err := json.Unmarshal(payload, &note); err != nil {
		return game.Change{}, fmt.Errorf("decode notification: %w", err)
	}
	change := game.Change{RoomID: note.RoomID, Deleted: note.Op == "DELETE"}
	switch note.Table {
	case "rooms":
		var row db.Room
		if err := json.Unmarshal(note.Record, &row); err != nil {
			return game.Change{}, fmt.Errorf("decode room: %w", err)
		}
		room, err := toRoom(row)
		if err != nil {
			return game.Change{}, err
		}
		change.Kind = game.ChangeRoom
		change.Room = room
	case "players":
		var row db.Player
		if err := json.Unmarshal(note.Record, &row); err != nil {
			return game.Change{}, fmt.Errorf("decode player: %w", err)
		}
		change.Kind = game.ChangePlayer
		change.Player = toPlayer(row)
	case "room_timers":
		var row db.RoomTimer
		if err := json.Unmarshal(note.Record, &row); err != nil {
			return game.Change{}, fmt.Errorf("decode timer: %w", err)
		}
		change.Kind = game.ChangeTimer
		change.Timer = game.TimerStart{Slot: row.Slot, StartedAt: row.StartedAt}
	case "votes":
		var row db.Vote
		if err := json.Unmarshal(note.Record, &row); err != nil {
			return game.Change{}, fmt.Errorf("decode vote: %w", err)
		}
		change.Kind = game.ChangeVote
		change.Vote = toVote(row)
	default:
		return game.Change{}, fmt.Errorf("unexpected table %q", note.Table)
	}
	return change, nil
}

// fanout demultiplexes one change stream into per-room subscribers. Callbacks
// run on the delivering goroutine, in delivery order.
type fanout struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func(game.Change)
}

func newFanout() *fanout {
	return &fanout{subs: make(map[string]map[int]func(game.Change))}
}

func (f *fanout) subscribe(roomID string, fn func(game.Change)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	group := f.subs[roomID]
	if group == nil {
		group = make(map[int]func(game.Change))
		f.subs[roomID] = group
	}
	id := f.nextID
	f.nextID++
	group[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[roomID], id)
		if len(f.subs[roomID]) == 0 {
			delete(f.subs, roomID)
		}
	}
}

func (f *fanout) deliver(change game.Change) {
	f.mu.Lock()
	targets := make([]func(game.Change), 0, len(f.subs[change.RoomID]))
	for _, fn := range f.subs[change.RoomID] {
		targets = append(targets, fn)
	}
	f.mu.Unlock()
	for _, fn := range targets {
		fn(change)
	}
}

func (f *fanout) broadcast(kind game.ChangeKind) {
	f.mu.Lock()
	rooms := make([]string, 0, len(f.subs))
	for roomID := range f.subs {
		rooms = append(rooms, roomID)
	}
	f.mu.Unlock()
	for _, roomID := range rooms {
		f.deliver(game.Change{Kind: kind, RoomID: roomID})
	}
}
