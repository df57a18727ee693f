package tcp

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSender_Send_RoundTripsThroughRealReceiver(t *testing.T) {
	r, err := Listen("127.0.0.1:0", func(msg json.RawMessage) (any, error) {
		var s string
		_ = json.Unmarshal(msg, &s)
		return s + "-ack", nil
	})
	require.NoError(t, err)
	defer r.Close()

	s := NewSender(50*time.Millisecond, time.Second)
	defer s.Close()

	payload, _ := json.Marshal("ping")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := s.Send(ctx, r.Addr().String(), payload)
	require.NoError(t, err)
	var got string
	require.NoError(t, json.Unmarshal(res.Value, &got))
	assert.Equal(t, "ping-ack", got)
}

func TestSender_Send_RetriesUntilReceiverComesUp(t *testing.T) {
	s := NewSender(20*time.Millisecond, time.Second)
	defer s.Close()

	// Reserve an address by starting and immediately closing a listener
	// so the port is known but nothing answers yet.
	probe, err := Listen("127.0.0.1:0", func(msg json.RawMessage) (any, error) { return nil, nil })
	require.NoError(t, err)
	addr := probe.Addr().String()
	require.NoError(t, probe.Close())

	var calls int32
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resultCh := make(chan struct{})
	go func() {
		payload, _ := json.Marshal("late")
		_, _ = s.Send(ctx, addr, payload)
		close(resultCh)
	}()

	// bring the receiver up after the sender's first attempt has
	// already failed, forcing the retry loop to succeed eventually.
	time.Sleep(30 * time.Millisecond)
	r, err := Listen(addr, func(msg json.RawMessage) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	})
	require.NoError(t, err)
	defer r.Close()

	select {
	case <-resultCh:
	case <-time.After(2 * time.Second):
		t.Fatal("send never completed after receiver came up")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestSender_Send_ContextCancelReturnsError(t *testing.T) {
	s := NewSender(time.Minute, time.Second)
	defer s.Close()

	probe, err := Listen("127.0.0.1:0", func(msg json.RawMessage) (any, error) { return nil, nil })
	require.NoError(t, err)
	addr := probe.Addr().String()
	require.NoError(t, probe.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	payload, _ := json.Marshal("x")
	_, err = s.Send(ctx, addr, payload)
	assert.Error(t, err)
}
