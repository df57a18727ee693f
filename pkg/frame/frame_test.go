package frame

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwojnars/schemat-sub000/pkg/types"
)

type testAgent struct {
	id         int64
	ttl        time.Duration
	concurrent bool
	commands   map[string]types.Command
}

func (a *testAgent) ID() int64                           { return a.id }
func (a *testAgent) TTL() time.Duration                   { return a.ttl }
func (a *testAgent) Concurrent() bool                     { return a.concurrent }
func (a *testAgent) Commands() map[string]types.Command   { return a.commands }

type testHost struct {
	mu           sync.Mutex
	reloadAgent  types.Agent
	unregistered []string
}

func (h *testHost) AppContext() context.Context { return context.Background() }

func (h *testHost) Reload(agentID int64, role string) (types.Agent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reloadAgent, nil
}

func (h *testHost) Unregister(fid string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregistered = append(h.unregistered, fid)
}

func newTestFrame(t *testing.T, agent *testAgent, host *testHost) *Frame {
	t.Helper()
	if host.reloadAgent == nil {
		host.reloadAgent = agent
	}
	fid := fmt.Sprintf("fid-%d", agent.id)
	f := New(fid, agent.id, "$agent", agent, host, zerolog.Nop())
	require.NoError(t, f.Start(context.Background()))
	return f
}

func slowEchoCommands(running *int32, maxObserved *int32) map[string]types.Command {
	return map[string]types.Command{
		"$agent.echo": func(state any, args []json.RawMessage) (any, error) {
			n := atomic.AddInt32(running, 1)
			for {
				cur := atomic.LoadInt32(maxObserved)
				if n <= cur || atomic.CompareAndSwapInt32(maxObserved, cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(running, -1)
			var x any
			if len(args) > 0 {
				_ = json.Unmarshal(args[0], &x)
			}
			return x, nil
		},
	}
}

func TestFrame_SerializesNonConcurrentCalls(t *testing.T) {
	var running, maxObserved int32
	agent := &testAgent{id: 1, concurrent: false, commands: slowEchoCommands(&running, &maxObserved)}
	host := &testHost{}
	f := newTestFrame(t, agent, host)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Exec(context.Background(), "echo", []json.RawMessage{[]byte(`1`)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&maxObserved))
}

func TestFrame_ConcurrentCallsOverlap(t *testing.T) {
	var running, maxObserved int32
	agent := &testAgent{id: 2, concurrent: true, commands: slowEchoCommands(&running, &maxObserved)}
	host := &testHost{}
	f := newTestFrame(t, agent, host)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Exec(context.Background(), "echo", []json.RawMessage{[]byte(`1`)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Greater(t, atomic.LoadInt32(&maxObserved), int32(1))
}

func TestFrame_LockExcludesNewCalls(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	agent := &testAgent{
		id:         3,
		concurrent: true,
		commands: map[string]types.Command{
			"$agent.echo": func(state any, args []json.RawMessage) (any, error) {
				return nil, nil
			},
		},
	}
	host := &testHost{}
	f := newTestFrame(t, agent, host)

	unlock, err := f.Lock(context.Background())
	require.NoError(t, err)

	go func() {
		close(started)
		_, _ = f.Exec(context.Background(), "echo", nil)
		close(block)
	}()
	<-started

	select {
	case <-block:
		t.Fatal("exec proceeded while frame was locked")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()

	select {
	case <-block:
	case <-time.After(time.Second):
		t.Fatal("exec never proceeded after unlock")
	}
}

func TestFrame_ExecFallsBackToAgentRole(t *testing.T) {
	agent := &testAgent{
		id:         4,
		concurrent: true,
		commands: map[string]types.Command{
			"$agent.ping": func(state any, args []json.RawMessage) (any, error) {
				return "pong", nil
			},
		},
	}
	host := &testHost{}
	f := New("fid-4", agent.id, "$custom", agent, host, zerolog.Nop())
	require.NoError(t, f.Start(context.Background()))

	res, err := f.Exec(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", res)
}

func TestFrame_PauseBlocksNewCallsUntilResume(t *testing.T) {
	agent := &testAgent{
		id:         5,
		concurrent: true,
		commands: map[string]types.Command{
			"$agent.echo": func(state any, args []json.RawMessage) (any, error) {
				return nil, nil
			},
		},
	}
	host := &testHost{}
	f := newTestFrame(t, agent, host)

	require.NoError(t, f.Pause(context.Background()))

	done := make(chan struct{})
	go func() {
		_, _ = f.Exec(context.Background(), "echo", nil)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("exec proceeded while paused")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, f.Resume(context.Background()))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("exec never resumed")
	}
}

func TestFrame_RestartSkipsIdenticalAgent(t *testing.T) {
	agent := &testAgent{id: 6, concurrent: true, commands: map[string]types.Command{}}
	host := &testHost{reloadAgent: agent}
	f := newTestFrame(t, agent, host)

	require.NoError(t, f.Restart(context.Background()))
	assert.Equal(t, StateRunning, f.State())
}

type restartAgent struct {
	testAgent
	restarted int32
}

func (a *restartAgent) Restart(fc types.FrameContext, prevState any, prevAgent types.Agent) (any, error) {
	atomic.AddInt32(&a.restarted, 1)
	return "restarted-state", nil
}

func TestFrame_RestartInstallsNewAgentAndState(t *testing.T) {
	oldAgent := &testAgent{id: 7, concurrent: true, commands: map[string]types.Command{}}
	newAgent := &restartAgent{testAgent: testAgent{id: 7, concurrent: true, commands: map[string]types.Command{}}}

	host := &testHost{reloadAgent: oldAgent}
	fid := "fid-7"
	f := New(fid, oldAgent.id, "$agent", oldAgent, host, zerolog.Nop())
	require.NoError(t, f.Start(context.Background()))

	host.reloadAgent = newAgent
	require.NoError(t, f.Restart(context.Background()))

	assert.Equal(t, int32(1), atomic.LoadInt32(&newAgent.restarted))
	assert.Equal(t, StateRunning, f.State())
	assert.Equal(t, fid, f.FID())
}

func TestFrame_StopUnregistersAndDrains(t *testing.T) {
	agent := &testAgent{
		id:         8,
		concurrent: true,
		commands: map[string]types.Command{
			"$agent.echo": func(state any, args []json.RawMessage) (any, error) {
				time.Sleep(10 * time.Millisecond)
				return nil, nil
			},
		},
	}
	host := &testHost{}
	f := newTestFrame(t, agent, host)

	done := make(chan struct{})
	go func() {
		_, _ = f.Exec(context.Background(), "echo", nil)
		close(done)
	}()
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, f.Stop(context.Background()))
	<-done

	assert.Equal(t, StateStopped, f.State())
	assert.Contains(t, host.unregistered, "fid-8")
}

func TestFrame_RestartIsNoopOnceStopping(t *testing.T) {
	agent := &testAgent{id: 9, concurrent: true, commands: map[string]types.Command{}}
	host := &testHost{reloadAgent: &restartAgent{testAgent: testAgent{id: 9, concurrent: true, commands: map[string]types.Command{}}}}
	f := newTestFrame(t, agent, host)

	require.NoError(t, f.Stop(context.Background()))
	require.Equal(t, StateStopped, f.State())

	require.NoError(t, f.Restart(context.Background()))
	assert.Equal(t, StateStopped, f.State(), "restart must not revive a stopped frame")
}

func TestFrame_PauseRefusesOnceStopping(t *testing.T) {
	agent := &testAgent{id: 10, concurrent: true, commands: map[string]types.Command{}}
	host := &testHost{}
	f := newTestFrame(t, agent, host)

	require.NoError(t, f.Stop(context.Background()))
	require.Equal(t, StateStopped, f.State())

	err := f.Pause(context.Background())
	assert.Error(t, err, "pause must refuse once the frame is stopping/stopped")
	assert.Equal(t, StateStopped, f.State(), "a refused pause must not overwrite the stopped state")
}
