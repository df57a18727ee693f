package ipc

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwojnars/schemat-sub000/pkg/mailbox"
)

func newLoopbackChannels(handlerA, handlerB mailbox.Handler) (*Channel, *Channel) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := New(ar, aw, handlerA, time.Second)
	b := New(br, bw, handlerB, time.Second)
	return a, b
}

func echoHandler(payload json.RawMessage) (any, error) {
	var s string
	_ = json.Unmarshal(payload, &s)
	return s, nil
}

func TestChannel_SendReceivesPeerHandlerResult(t *testing.T) {
	a, b := newLoopbackChannels(nil, echoHandler)
	defer a.Close()
	defer b.Close()

	payload, _ := json.Marshal("ping")
	res, err := a.Mailbox().Send(context.Background(), payload)
	require.NoError(t, err)
	var got string
	require.NoError(t, json.Unmarshal(res.Value, &got))
	assert.Equal(t, "ping", got)
}

func TestChannel_Notify_DeliversWithoutAResponse(t *testing.T) {
	done := make(chan json.RawMessage, 1)
	handler := func(payload json.RawMessage) (any, error) {
		done <- payload
		return nil, nil
	}
	a, b := newLoopbackChannels(nil, handler)
	defer a.Close()
	defer b.Close()

	payload, _ := json.Marshal("fire")
	require.NoError(t, a.Mailbox().Notify(payload))

	select {
	case got := <-done:
		assert.JSONEq(t, `"fire"`, string(got))
	case <-time.After(time.Second):
		t.Fatal("peer handler never ran")
	}
}

func TestChannel_Bidirectional_BothSidesCanInitiate(t *testing.T) {
	a, b := newLoopbackChannels(echoHandler, echoHandler)
	defer a.Close()
	defer b.Close()

	p1, _ := json.Marshal("from-a")
	res1, err := a.Mailbox().Send(context.Background(), p1)
	require.NoError(t, err)
	var got1 string
	require.NoError(t, json.Unmarshal(res1.Value, &got1))
	assert.Equal(t, "from-a", got1)

	p2, _ := json.Marshal("from-b")
	res2, err := b.Mailbox().Send(context.Background(), p2)
	require.NoError(t, err)
	var got2 string
	require.NoError(t, json.Unmarshal(res2.Value, &got2))
	assert.Equal(t, "from-b", got2)
}

func TestChannel_Close_RejectsFurtherSendsButLeavesInFlightAlone(t *testing.T) {
	release := make(chan struct{})
	slow := func(payload json.RawMessage) (any, error) {
		<-release
		return "late", nil
	}
	a, b := newLoopbackChannels(nil, slow)
	defer b.Close()

	payload, _ := json.Marshal("ping")
	inFlightDone := make(chan error, 1)
	go func() {
		_, err := a.Mailbox().Send(context.Background(), payload)
		inFlightDone <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, a.Close())

	// a brand new Send must be rejected immediately once closed.
	_, err := a.Mailbox().Send(context.Background(), payload)
	assert.Error(t, err)

	// the call already in flight when Close ran is left to resolve
	// normally once its handler finishes (Close only stops the sweeper).
	close(release)
	select {
	case err := <-inFlightDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("in-flight send never resolved after its handler completed")
	}
}
