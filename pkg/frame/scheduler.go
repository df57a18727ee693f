package frame

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// jitterMin and jitterSpread define the randomized interval multiplier
// applied on every tick: factor ranges over [jitterMin, jitterMin+jitterSpread]
// = [0.9, 1.1] (spec §4.6).
const (
	jitterMin    = 0.9
	jitterSpread = 0.2
)

// Recurrent re-arms a timer after every tick, letting the user function
// adjust the next interval and tolerating panics-free errors without
// stopping the schedule (spec §4.6).
type Recurrent struct {
	name     string
	fn       func() (time.Duration, error)
	log      zerolog.Logger

	mu       sync.Mutex
	interval time.Duration
	timer    *time.Timer
	stopped  bool
}

// NewRecurrent creates a scheduler that calls fn roughly every
// interval, jittered ±10% on each re-arm.
func NewRecurrent(name string, interval time.Duration, fn func() (time.Duration, error), log zerolog.Logger) *Recurrent {
	return &Recurrent{
		name:     name,
		fn:       fn,
		log:      log.With().Str("scheduler", name).Logger(),
		interval: interval,
	}
}

// Start arms the first tick.
func (r *Recurrent) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.timer = time.AfterFunc(jittered(r.interval), r.tick)
}

// Stop cancels the pending timer; a Recurrent cannot be restarted once
// stopped.
func (r *Recurrent) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
	}
}

func (r *Recurrent) tick() {
	next, err := r.safeRun()
	if err != nil {
		r.log.Error().Err(err).Msg("recurrent task failed")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if next > 0 {
		r.interval = next
	}
	r.timer = time.AfterFunc(jittered(r.interval), r.tick)
}

func (r *Recurrent) safeRun() (next time.Duration, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = recoveredError(p)
		}
	}()
	return r.fn()
}

func recoveredError(p any) error {
	if e, ok := p.(error); ok {
		return e
	}
	return &panicError{p}
}

type panicError struct{ value any }

func (e *panicError) Error() string {
	return "recurrent task panicked"
}

// jittered scales d by a random factor in [0.9, 1.1].
func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	factor := jitterMin + rand.Float64()*jitterSpread
	return time.Duration(float64(d) * factor)
}
