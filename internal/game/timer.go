package game

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Countdown is a phase timer anchored on a persisted start instant. Every
// client derives the same remaining time from it without trusting its own
// phase-entry time.
type Countdown struct {
	Slot      string
	StartedAt time.Time
	Duration  time.Duration
}

// Remaining is max(0, Duration - (now - StartedAt)).
func (c Countdown) Remaining(now time.Time) time.Duration {
	left := c.Duration - now.Sub(c.StartedAt)
	if left < 0 {
		return 0
	}
	return left
}

func (c Countdown) Expired(now time.Time) bool {
	return c.Remaining(now) == 0
}

// Seconds is the whole-second remaining time used for display.
func (c Countdown) Seconds(now time.Time) int {
	return int(c.Remaining(now) / time.Second)
}

// countdownLocked returns the countdown of the current phase. The second result
// is false for untimed phases and for timed phases whose start is not yet known.
func (s *Session) countdownLocked() (Countdown, bool) {
	slot, timed := TimerSlot(s.room.Phase)
	if !timed {
		return Countdown{}, false
	}
	start, ok := s.room.TimerStart(slot)
	if !ok {
		return Countdown{Slot: slot, Duration: s.durations.For(s.room.Phase)}, false
	}
	return Countdown{Slot: slot, StartedAt: start, Duration: s.durations.For(s.room.Phase)}, true
}

// setTimerLocked records a persisted start. The first value seen for a slot
// wins; the store never rewrites one, so a later different value is ignored.
func (s *Session) setTimerLocked(slot string, at time.Time) {
	if slot == "" || at.IsZero() {
		return
	}
	if s.room.Timers == nil {
		s.room.Timers = make(map[string]time.Time)
	}
	if _, ok := s.room.Timers[slot]; ok {
		return
	}
	s.room.Timers[slot] = at
}

// ensureTimer makes the host persist the start of the current timed phase when
// nobody has yet. Other clients, and a host that finds the slot already set,
// reuse the stored start.
func (s *Session) ensureTimer(ctx context.Context) {
	s.mu.Lock()
	phase := s.room.Phase
	slot, timed := TimerSlot(phase)
	_, set := s.room.TimerStart(slot)
	host := s.isHostLocked()
	s.mu.Unlock()
	if !timed || set || !host {
		return
	}

	start, created, err := s.store.StartTimer(ctx, s.roomID, slot, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Str("slot", slot).Msg("start timer failed")
		return
	}
	s.mu.Lock()
	s.setTimerLocked(start.Slot, start.StartedAt)
	s.mu.Unlock()
	if created {
		log.Info().
			Str("room_id", s.roomID).
			Str("slot", slot).
			Time("started_at", start.StartedAt).
			Msg("timer started")
	}
}

// Tick recomputes the countdown. When the host observes expiry it attempts the
// transition exactly once per phase; a failed attempt is retried on the next
// tick.
func (s *Session) Tick(ctx context.Context) {
	now := s.clock.Now()
	s.mu.Lock()
	phase := s.room.Phase
	host := s.isHostLocked()
	countdown, running := s.countdownLocked()
	_, timed := TimerSlot(phase)
	fire := host && running && countdown.Expired(now) && !s.expired[phase]
	if fire {
		s.expired[phase] = true
	}
	s.mu.Unlock()

	if host && timed && !running {
		s.ensureTimer(ctx)
	}
	if fire {
		log.Info().Str("room_id", s.roomID).Str("phase", phase.String()).Msg("timer expired")
		if err := s.advanceFrom(ctx, phase); err != nil {
			log.Warn().Err(err).Str("room_id", s.roomID).Str("phase", phase.String()).Msg("timed advance failed")
			s.mu.Lock()
			delete(s.expired, phase)
			s.mu.Unlock()
		}
	}
	s.publish()
}
