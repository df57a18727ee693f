package frame

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRecurrent_TicksRepeatedly(t *testing.T) {
	var ticks int32
	r := NewRecurrent("test", 5*time.Millisecond, func() (time.Duration, error) {
		atomic.AddInt32(&ticks, 1)
		return 0, nil
	}, zerolog.Nop())
	r.Start()
	defer r.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Greater(t, atomic.LoadInt32(&ticks), int32(2))
}

func TestRecurrent_StopPreventsFurtherTicks(t *testing.T) {
	var ticks int32
	r := NewRecurrent("test", 5*time.Millisecond, func() (time.Duration, error) {
		atomic.AddInt32(&ticks, 1)
		return 0, nil
	}, zerolog.Nop())
	r.Start()
	time.Sleep(12 * time.Millisecond)
	r.Stop()

	after := atomic.LoadInt32(&ticks)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&ticks))
}

func TestRecurrent_AdoptsReturnedInterval(t *testing.T) {
	var ticks int32
	r := NewRecurrent("test", 200*time.Millisecond, func() (time.Duration, error) {
		atomic.AddInt32(&ticks, 1)
		return 5 * time.Millisecond, nil
	}, zerolog.Nop())
	r.Start()
	defer r.Stop()

	// first tick fires around the initial 200ms interval, but every tick
	// after it adopts the 5ms interval the callback returned, so by
	// 250ms several more ticks should have happened.
	time.Sleep(250 * time.Millisecond)
	assert.Greater(t, atomic.LoadInt32(&ticks), int32(2))
}

func TestRecurrent_KeepsGoingAfterUserError(t *testing.T) {
	var ticks int32
	r := NewRecurrent("test", 5*time.Millisecond, func() (time.Duration, error) {
		n := atomic.AddInt32(&ticks, 1)
		if n == 1 {
			return 0, assertError{}
		}
		return 0, nil
	}, zerolog.Nop())
	r.Start()
	defer r.Stop()

	time.Sleep(40 * time.Millisecond)
	assert.Greater(t, atomic.LoadInt32(&ticks), int32(2))
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestJittered_WithinBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := jittered(base)
		assert.GreaterOrEqual(t, d, time.Duration(float64(base)*jitterMin))
		assert.LessOrEqual(t, d, time.Duration(float64(base)*(jitterMin+jitterSpread)))
	}
}

func TestJittered_NonPositiveUnchanged(t *testing.T) {
	assert.Equal(t, time.Duration(0), jittered(0))
}
