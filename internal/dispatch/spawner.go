package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Spawner starts a unit running concurrently with the caller. Spawn must not
// block on the unit's progress.
type Spawner interface {
	Spawn(ctx context.Context, u *Unit) error
}

// SpawnFunc adapts a function to Spawner.
type SpawnFunc func(ctx context.Context, u *Unit) error

func (f SpawnFunc) Spawn(ctx context.Context, u *Unit) error { return f(ctx, u) }

// GoroutineSpawner runs each unit on its own goroutine. With a positive
// limit it refuses spawns once that many units are live.
type GoroutineSpawner struct {
	slots chan struct{}
	live  atomic.Int64
}

// NewGoroutineSpawner returns a spawner allowing at most maxLive concurrent
// units; maxLive <= 0 means unbounded.
func NewGoroutineSpawner(maxLive int) *GoroutineSpawner {
	s := &GoroutineSpawner{}
	if maxLive > 0 {
		s.slots = make(chan struct{}, maxLive)
	}
	return s
}

func (s *GoroutineSpawner) Spawn(ctx context.Context, u *Unit) error {
	if s.slots != nil {
		select {
		case s.slots <- struct{}{}:
		default:
			return fmt.Errorf("%w: %d units already live", ErrSpawnRefused, cap(s.slots))
		}
	}

	s.live.Add(1)
	go func() {
		defer func() {
			s.live.Add(-1)
			if s.slots != nil {
				<-s.slots
			}
		}()
		u.Run(ctx)
	}()
	return nil
}

// Live returns the number of units currently running.
func (s *GoroutineSpawner) Live() int {
	return int(s.live.Load())
}
