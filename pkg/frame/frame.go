package frame

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwojnars/schemat-sub000/pkg/events"
	"github.com/mwojnars/schemat-sub000/pkg/types"
)

// State is a Frame's externally visible lifecycle stage.
type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StatePaused
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// bootTTL is the restart period used while an agent's declared TTL is
// not yet positive, so a freshly started agent's state converges
// quickly instead of waiting out a long default.
const bootTTL = 2 * time.Second

// defaultBackgroundInterval is the period of the background scheduler
// when the agent's Background method has never returned an override.
const defaultBackgroundInterval = 5 * time.Second

// Host is the subset of Kernel a Frame needs: reloading the backing
// agent reference, the application context method bodies should run
// under, and removal from the frame registry on stop.
type Host interface {
	AppContext() context.Context
	Reload(agentID int64, role string) (types.Agent, error)
	Unregister(fid string)
}

// Frame wraps one live Agent, tracking its lifecycle state and
// arbitrating concurrent access to its methods (spec §4.6).
type Frame struct {
	fid     string
	agentID int64
	role    string
	host    Host
	log     zerolog.Logger
	broker  *events.Broker

	mu    sync.Mutex
	cond  *sync.Cond
	state State
	stopped bool // latched: do not auto-restart even after node reboot

	agent    types.Agent
	appState any

	inFlight      int
	exclusiveHeld bool

	startSignal chan struct{}
	startErr    error

	restartSched *Recurrent
	bgSched      *Recurrent
}

// New constructs a Frame for agent, not yet started.
func New(fid string, agentID int64, role string, agent types.Agent, host Host, log zerolog.Logger) *Frame {
	f := &Frame{
		fid:         fid,
		agentID:     agentID,
		role:        role,
		host:        host,
		agent:       agent,
		state:       StateNew,
		startSignal: make(chan struct{}),
		log:         log.With().Str("fid", fid).Int64("agent", agentID).Str("role", role).Logger(),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// SetBroker wires an event broker to publish lifecycle transitions to.
// Nil (the default) disables publishing, so tests that build a Frame
// directly need not provide one.
func (f *Frame) SetBroker(broker *events.Broker) { f.broker = broker }

func (f *Frame) publish(eventType events.EventType) {
	if f.broker == nil {
		return
	}
	f.broker.Publish(&events.Event{
		Type: eventType,
		Metadata: map[string]string{
			"fid":      f.fid,
			"agent_id": fmt.Sprintf("%d", f.agentID),
			"role":     f.role,
		},
	})
}

// FID returns the frame's identity, satisfying types.FrameContext.
func (f *Frame) FID() string { return f.fid }

// AgentID returns the wrapped agent's id, satisfying types.FrameContext.
func (f *Frame) AgentID() int64 { return f.agentID }

// Role returns the frame's deployment role, satisfying types.FrameContext.
func (f *Frame) Role() string { return f.role }

// State reports the frame's current lifecycle stage.
func (f *Frame) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Start is idempotent and fail-fast: a second call returns the first
// call's outcome without re-running start logic.
func (f *Frame) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.state != StateNew {
		err := f.startErr
		f.mu.Unlock()
		return err
	}
	f.state = StateStarting
	agent := f.agent
	f.mu.Unlock()

	var state any
	var err error
	if starter, ok := agent.(types.Starter); ok {
		state, err = starter.Start(f)
	}

	f.mu.Lock()
	f.appState = state
	f.startErr = err
	if err == nil {
		f.state = StateRunning
	} else {
		f.state = StateStopped
		f.stopped = true
	}
	close(f.startSignal)
	f.mu.Unlock()

	if err != nil {
		f.log.Error().Err(err).Msg("frame failed to start")
		return err
	}

	f.armRestartScheduler(agent.TTL())
	f.armBackgroundScheduler(agent)
	f.publish(events.EventFrameStarted)
	return nil
}

func (f *Frame) armRestartScheduler(ttl time.Duration) {
	period := ttl
	if period <= 0 {
		period = bootTTL
	}
	f.restartSched = NewRecurrent("restart:"+f.fid, period, func() (time.Duration, error) {
		if err := f.Restart(f.host.AppContext()); err != nil {
			return 0, err
		}
		return 0, nil
	}, f.log)
	f.restartSched.Start()
}

func (f *Frame) armBackgroundScheduler(agent types.Agent) {
	bg, ok := agent.(types.Backgrounder)
	if !ok {
		return
	}
	f.bgSched = NewRecurrent("background:"+f.fid, defaultBackgroundInterval, func() (time.Duration, error) {
		return bg.Background()
	}, f.log)
	f.bgSched.Start()
}

// Restart reloads the backing agent reference; if the reload returns
// the identical agent (pointer-equal), this is a no-op. Stop wins: a
// frame that is already stopping or stopped never restarts.
func (f *Frame) Restart(ctx context.Context) error {
	f.mu.Lock()
	stopping := f.state == StateStopping || f.state == StateStopped
	f.mu.Unlock()
	if stopping {
		return nil
	}

	newAgent, err := f.host.Reload(f.agentID, f.role)
	if err != nil {
		f.log.Error().Err(err).Msg("frame restart: reload failed")
		return err
	}

	f.mu.Lock()
	sameAgent := f.agent == newAgent
	f.mu.Unlock()
	if sameAgent {
		return nil
	}

	wasPaused := f.State() == StatePaused
	if err := f.Pause(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	if f.state == StateStopping || f.state == StateStopped {
		f.mu.Unlock()
		return nil
	}
	prevAgent := f.agent
	prevState := f.appState
	f.mu.Unlock()

	var newState any
	if restarter, ok := newAgent.(types.Restarter); ok {
		newState, err = restarter.Restart(f, prevState, prevAgent)
	} else {
		newState = prevState
	}

	if err != nil {
		f.log.Error().Err(err).Msg("frame restart: agent.Restart failed, keeping previous agent")
		if !wasPaused {
			return f.Resume(ctx)
		}
		return nil
	}

	f.mu.Lock()
	if f.state == StateStopping || f.state == StateStopped {
		f.mu.Unlock()
		return nil
	}
	f.agent = newAgent
	f.appState = newState
	f.mu.Unlock()

	f.publish(events.EventFrameRestarted)

	if !wasPaused {
		return f.Resume(ctx)
	}
	return nil
}

// Stop cancels scheduled tasks, drains in-flight calls, and invokes the
// agent's Stop hook, then removes the frame from the kernel registry.
func (f *Frame) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.state == StateStopped || f.state == StateStopping {
		f.mu.Unlock()
		return nil
	}
	f.state = StateStopping
	f.stopped = true
	f.mu.Unlock()

	if f.restartSched != nil {
		f.restartSched.Stop()
	}
	if f.bgSched != nil {
		f.bgSched.Stop()
	}

	if err := f.waitUntil(ctx, func() bool { return f.inFlight == 0 }); err != nil {
		return err
	}

	f.mu.Lock()
	agent, state := f.agent, f.appState
	f.mu.Unlock()

	var err error
	if stopper, ok := agent.(types.Stopper); ok {
		err = stopper.Stop(state)
	}

	f.mu.Lock()
	f.state = StateStopped
	f.cond.Broadcast()
	f.mu.Unlock()

	f.publish(events.EventFrameStopped)
	f.host.Unregister(f.fid)
	return err
}

// Pause drains in-flight calls, then blocks new calls (other than a
// "resume" command) until Resume is called. Stop wins: a frame that is
// already stopping or stopped refuses to pause.
func (f *Frame) Pause(ctx context.Context) error {
	f.mu.Lock()
	if f.state == StateStopping || f.state == StateStopped {
		f.mu.Unlock()
		return fmt.Errorf("frame %s: stopping, refusing pause", f.fid)
	}
	if f.state == StatePaused {
		f.mu.Unlock()
		return nil
	}
	f.state = StatePaused
	f.cond.Broadcast()
	f.mu.Unlock()

	err := f.waitUntil(ctx, func() bool { return f.inFlight == 0 })
	if err == nil {
		f.publish(events.EventFramePaused)
	}
	return err
}

// Resume waits for any in-progress pause drain to finish, then returns
// the frame to Running. It never races ahead of an incomplete Pause.
func (f *Frame) Resume(ctx context.Context) error {
	f.mu.Lock()
	if f.state != StatePaused {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	if err := f.waitUntil(ctx, func() bool { return f.inFlight == 0 }); err != nil {
		return err
	}

	f.mu.Lock()
	if f.state == StatePaused {
		f.state = StateRunning
	}
	f.cond.Broadcast()
	f.mu.Unlock()
	f.publish(events.EventFrameResumed)
	return nil
}

// ErrNestedLock is returned when Lock is called while the frame is
// already held exclusively; nested locks on the same frame are not
// supported.
var ErrNestedLock = fmt.Errorf("frame: nested lock on the same frame is not permitted")

// Lock drains in-flight calls and holds the frame exclusively until the
// returned unlock function is called.
func (f *Frame) Lock(ctx context.Context) (unlock func(), err error) {
	f.mu.Lock()
	if f.exclusiveHeld {
		f.mu.Unlock()
		return nil, ErrNestedLock
	}
	f.exclusiveHeld = true
	f.mu.Unlock()

	if err := f.waitUntil(ctx, func() bool { return f.inFlight == 0 }); err != nil {
		f.mu.Lock()
		f.exclusiveHeld = false
		f.cond.Broadcast()
		f.mu.Unlock()
		return nil, err
	}

	return func() {
		f.mu.Lock()
		f.exclusiveHeld = false
		f.cond.Broadcast()
		f.mu.Unlock()
	}, nil
}

// WithLock runs fn under an exclusive lock and releases it on return.
func (f *Frame) WithLock(ctx context.Context, fn func() error) error {
	unlock, err := f.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// Exec runs command against role (falling back to "$agent.{command}"),
// waiting for start, exclusive drains, and pause as needed (spec §4.6
// step (1)-(8)).
func (f *Frame) Exec(ctx context.Context, command string, args []json.RawMessage) (any, error) {
	if _, err := f.resolve(command); err != nil {
		return nil, err
	}

	select {
	case <-f.startSignal:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	f.mu.Lock()
	if f.startErr != nil {
		f.mu.Unlock()
		return nil, f.startErr
	}
	f.mu.Unlock()

	predicate := func() bool {
		if f.state == StateStopping || f.state == StateStopped {
			return true // fail fast below, do not block forever
		}
		if f.exclusiveHeld {
			return false
		}
		if f.state == StatePaused && command != "resume" {
			return false
		}
		if !f.agent.Concurrent() && f.inFlight > 0 {
			return false
		}
		return true
	}

	f.mu.Lock()
	if err := f.waitUntilLocked(ctx, predicate); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if f.state == StateStopping || f.state == StateStopped {
		f.mu.Unlock()
		return nil, fmt.Errorf("frame %s: stopping, rejecting call %q", f.fid, command)
	}
	f.inFlight++
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.cond.Broadcast()
		f.mu.Unlock()
	}()

	// re-resolve against the current agent: pausing may have swapped it
	cmd, err := f.resolve(command)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	state := f.appState
	f.mu.Unlock()

	return cmd(state, args)
}

func (f *Frame) resolve(command string) (types.Command, error) {
	f.mu.Lock()
	agent := f.agent
	role := f.role
	f.mu.Unlock()

	table := agent.Commands()
	if cmd, ok := table[role+"."+command]; ok {
		return cmd, nil
	}
	if cmd, ok := table["$agent."+command]; ok {
		return cmd, nil
	}
	return nil, fmt.Errorf("frame %s: no method %q for role %q", f.fid, command, role)
}

// waitUntil blocks the caller until predicate holds or ctx is done,
// without requiring the caller to already hold f.mu.
func (f *Frame) waitUntil(ctx context.Context, predicate func() bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitUntilLocked(ctx, predicate)
}

// waitUntilLocked is waitUntil for a caller that already holds f.mu.
func (f *Frame) waitUntilLocked(ctx context.Context, predicate func() bool) error {
	if ctx.Done() == nil {
		for !predicate() {
			f.cond.Wait()
		}
		return nil
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			f.cond.Broadcast()
			f.mu.Unlock()
		case <-stop:
		}
	}()

	for !predicate() {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.cond.Wait()
	}
	return ctx.Err()
}
