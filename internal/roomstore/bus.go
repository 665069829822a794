package roomstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"murder-mystery/internal/game"
)

// Bus carries committed changes between processes when the store itself cannot
// notify.
type Bus interface {
	game.Notifier
	Publish(ctx context.Context, change game.Change) error
	Close() error
}

type NATSBus struct {
	conn   *nats.Conn
	prefix string
	resync *fanout
}

func NewNATSBus(url, prefix string) (*NATSBus, error) {
	bus := &NATSBus{prefix: prefix, resync: newFanout()}
	opts := []nats.Option{
		nats.Name("murder-mystery"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			bus.resync.broadcast(game.ChangeResync)
		}),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	bus.conn = conn
	return bus, nil
}

func (b *NATSBus) subject(roomID string) string {
	return b.prefix + "." + roomID
}

func (b *NATSBus) Publish(_ context.Context, change game.Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject(change.RoomID), data); err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(_ context.Context, roomID string, fn func(game.Change)) (func(), error) {
	sub, err := b.conn.Subscribe(b.subject(roomID), func(msg *nats.Msg) {
		var change game.Change
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to decode change")
			return
		}
		fn(change)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to NATS: %w", err)
	}
	// Publish after subscribe returns must be seen by this subscriber.
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush NATS: %w", err)
	}
	unsubscribeResync := b.resync.subscribe(roomID, fn)
	return func() {
		unsubscribeResync()
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("NATS unsubscribe failed")
		}
	}, nil
}

func (b *NATSBus) Close() error {
	return b.conn.Drain()
}

type RedisBus struct {
	client *redis.Client
	prefix string
}

func NewRedisBus(ctx context.Context, addr, prefix string) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return &RedisBus{client: client, prefix: prefix}, nil
}

func (b *RedisBus) channel(roomID string) string {
	return b.prefix + roomID
}

func (b *RedisBus) Publish(ctx context.Context, change game.Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	channel := b.channel(change.RoomID)
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis: publish to %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, roomID string, fn func(game.Change)) (func(), error) {
	channel := b.channel(roomID)
	pubsub := b.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so nothing published after this
	// call returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe to %s: %w", channel, err)
	}
	messages := pubsub.Channel()
	go func() {
		for msg := range messages {
			var change game.Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				log.Error().Err(err).Str("channel", msg.Channel).Msg("failed to decode change")
				continue
			}
			fn(change)
		}
	}()
	return func() {
		if err := pubsub.Close(); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("redis unsubscribe failed")
		}
	}, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

type writer interface {
	game.Store
	game.Messenger
	Membership
}

// Broadcaster publishes every successful write of the wrapped store to a Bus.
// A failed publish is logged; the write itself has already committed.
type Broadcaster struct {
	writer
	bus    Bus
	closer func() error
}

func NewBroadcaster(store writer, bus Bus, closer func() error) *Broadcaster {
	return &Broadcaster{writer: store, bus: bus, closer: closer}
}

func (b *Broadcaster) Subscribe(ctx context.Context, roomID string, fn func(game.Change)) (func(), error) {
	return b.bus.Subscribe(ctx, roomID, fn)
}

func (b *Broadcaster) Close() error {
	err := b.bus.Close()
	if b.closer != nil {
		if closeErr := b.closer(); err == nil {
			err = closeErr
		}
	}
	return err
}

func (b *Broadcaster) publish(ctx context.Context, changes ...game.Change) {
	for _, change := range changes {
		if err := b.bus.Publish(context.WithoutCancel(ctx), change); err != nil {
			log.Warn().Err(err).Str("room_id", change.RoomID).Str("kind", string(change.Kind)).Msg("change publish failed")
		}
	}
}

func (b *Broadcaster) CompareAndSetPhase(ctx context.Context, roomID string, from, to game.Phase) (game.Room, error) {
	room, err := b.writer.CompareAndSetPhase(ctx, roomID, from, to)
	if err != nil {
		return room, err
	}
	b.publish(ctx, game.Change{Kind: game.ChangeRoom, RoomID: roomID, Room: room})
	return room, nil
}

func (b *Broadcaster) StartTimer(ctx context.Context, roomID, slot string, at time.Time) (game.TimerStart, bool, error) {
	start, created, err := b.writer.StartTimer(ctx, roomID, slot, at)
	if err != nil {
		return start, created, err
	}
	if created {
		b.publish(ctx, game.Change{Kind: game.ChangeTimer, RoomID: roomID, Timer: start})
	}
	return start, created, nil
}

func (b *Broadcaster) AssignRole(ctx context.Context, roomID, playerID, roleID, displayName string) (game.Player, error) {
	player, err := b.writer.AssignRole(ctx, roomID, playerID, roleID, displayName)
	if err != nil {
		return player, err
	}
	b.publish(ctx, game.Change{Kind: game.ChangePlayer, RoomID: roomID, Player: player})
	return player, nil
}

func (b *Broadcaster) InsertVote(ctx context.Context, vote game.Vote) (game.Vote, error) {
	saved, err := b.writer.InsertVote(ctx, vote)
	if err != nil {
		return saved, err
	}
	b.publish(ctx, game.Change{Kind: game.ChangeVote, RoomID: saved.RoomID, Vote: saved})
	return saved, nil
}

func (b *Broadcaster) AddPlayer(ctx context.Context, roomID, displayName string) (game.Player, error) {
	player, err := b.writer.AddPlayer(ctx, roomID, displayName)
	if err != nil {
		return player, err
	}
	changes := []game.Change{{Kind: game.ChangePlayer, RoomID: roomID, Player: player}}
	if player.IsHost {
		if room, err := b.writer.GetRoom(ctx, roomID); err == nil {
			changes = append(changes, game.Change{Kind: game.ChangeRoom, RoomID: roomID, Room: room})
		}
	}
	b.publish(ctx, changes...)
	return player, nil
}

func (b *Broadcaster) RemovePlayer(ctx context.Context, roomID, playerID string) (Departure, error) {
	departure, err := b.writer.RemovePlayer(ctx, roomID, playerID)
	if err != nil {
		return departure, err
	}
	changes := []game.Change{{Kind: game.ChangePlayer, RoomID: roomID, Deleted: true, Player: departure.Player}}
	switch {
	case departure.RoomClosed:
		changes = append(changes, game.Change{Kind: game.ChangeRoom, RoomID: roomID, Deleted: true, Room: game.Room{ID: roomID}})
	case departure.NewHost != nil:
		changes = append(changes, game.Change{Kind: game.ChangePlayer, RoomID: roomID, Player: *departure.NewHost})
		if room, err := b.writer.GetRoom(ctx, roomID); err == nil {
			changes = append(changes, game.Change{Kind: game.ChangeRoom, RoomID: roomID, Room: room})
		}
	}
	b.publish(ctx, changes...)
	return departure, nil
}

func (b *Broadcaster) AttachScript(ctx context.Context, roomID, scriptID string) (game.Room, error) {
	room, err := b.writer.AttachScript(ctx, roomID, scriptID)
	if err != nil {
		return room, err
	}
	b.publish(ctx, game.Change{Kind: game.ChangeRoom, RoomID: roomID, Room: room})
	return room, nil
}
