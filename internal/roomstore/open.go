package roomstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"murder-mystery/internal/config"
	"murder-mystery/internal/db"
	"murder-mystery/internal/game"
)

// Open builds the Backend selected by cfg.NotifyBackend. The postgres backend
// runs its listener until ctx is done.
func Open(ctx context.Context, cfg config.Config, clock clockwork.Clock) (Backend, error) {
	backend := strings.ToLower(cfg.NotifyBackend)
	if backend == "memory" {
		log.Warn().Msg("using in-process memory store")
		return NewMemory(clock), nil
	}

	conn, err := db.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	store := NewPostgres(conn, clock)

	switch backend {
	case "postgres":
		listener, err := NewPGListener(ListenerConfig{
			DatabaseURL:   cfg.DatabaseURL,
			NotifyChannel: cfg.NotifyChannel,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		go func() {
			if err := listener.Run(ctx); err != nil {
				log.Error().Err(err).Msg("listener stopped")
			}
		}()
		return &listenedStore{Postgres: store, listener: listener}, nil
	case "nats":
		bus, err := NewNATSBus(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		return NewBroadcaster(store, bus, store.Close), nil
	case "redis":
		bus, err := NewRedisBus(ctx, cfg.RedisAddr, cfg.RedisPrefix)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		return NewBroadcaster(store, bus, store.Close), nil
	default:
		_ = store.Close()
		return nil, fmt.Errorf("unknown notify backend %q", cfg.NotifyBackend)
	}
}

// listenedStore pairs the relational store with the trigger-driven listener.
type listenedStore struct {
	*Postgres
	listener *PGListener
}

func (s *listenedStore) Subscribe(ctx context.Context, roomID string, fn func(game.Change)) (func(), error) {
	return s.listener.Subscribe(ctx, roomID, fn)
}

func (s *listenedStore) Close() error {
	return errors.Join(s.listener.Close(), s.Postgres.Close())
}
