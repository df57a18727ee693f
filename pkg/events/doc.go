/*
Package events provides an in-memory event broker for the kernel's
pub/sub notifications.

The events package implements a lightweight event bus for broadcasting
frame lifecycle and routing changes to interested subscribers. It
supports fan-out subscriptions with asynchronous, non-blocking event
delivery. Frames, atlases and the reconciler publish to it; no package
in this module subscribes to it, so its consumers are outside code and
tests.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Frame Events:                              │          │
	│  │    - frame.started, frame.stopped            │          │
	│  │    - frame.restarted                         │          │
	│  │    - frame.paused, frame.resumed              │          │
	│  │                                              │          │
	│  │  Atlas Events:                               │          │
	│  │    - atlas.inserted, atlas.removed            │          │
	│  │                                              │          │
	│  │  Node Events:                                │          │
	│  │    - node.down                               │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  None in this module; tests subscribe        │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel

Event:
  - ID: Unique event identifier
  - Type: Event type (frame.started, node.down, etc.)
  - Timestamp: When event occurred
  - Message: Human-readable description
  - Metadata: Key-value pairs for additional context

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

# Event Flow

Publish Flow:
 1. Publisher calls broker.Publish(event)
 2. Event added to main event channel (non-blocking)
 3. Broadcast loop receives event
 4. Event sent to all subscriber channels
 5. Subscribers receive event asynchronously
 6. Full subscriber buffers skip (no blocking)

Subscribe Flow:
 1. Subscriber calls broker.Subscribe()
 2. New buffered channel created
 3. Channel registered in subscriber map
 4. Subscriber receives events via channel

Unsubscribe Flow:
 1. Subscriber calls broker.Unsubscribe(channel)
 2. Channel removed from subscriber map and closed

# Usage

Creating and Starting Broker:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Subscribing to Events:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
		}
	}()

Publishing Events:

	broker.Publish(&events.Event{
		Type:    events.EventFrameStarted,
		Message: "frame f-abc123 started for agent 7/$leader",
		Metadata: map[string]string{
			"fid":      "f-abc123",
			"agent_id": "7",
			"role":     "$leader",
		},
	})

# Event Types Catalog

EventFrameStarted / EventFrameStopped:
  - Published when: Frame.Start / Frame.Stop complete
  - Metadata: fid, agent_id, role

EventFrameRestarted:
  - Published when: Frame.Restart swaps in a reloaded agent
  - Metadata: fid, agent_id, role

EventFramePaused / EventFrameResumed:
  - Published when: Frame.Pause / Frame.Resume complete
  - Metadata: fid, agent_id, role

EventAtlasInserted / EventAtlasRemoved:
  - Published when: a routing record is added to or removed from an
    Atlas
  - Metadata: agent_id, role, node, worker, fid

EventNodeDown:
  - Published when: the reconciler marks a node down after consecutive
    failed TCP dial probes
  - Metadata: node_id

# Design Patterns

Non-Blocking Publish:
  - Publish sends to buffered channel, returns immediately
  - Events may be dropped if buffer full
  - Trade-off: throughput over guaranteed delivery

Fan-Out Pattern:
  - Single event broadcast to all subscribers, each with its own
    channel and independent processing rate
  - Full buffers skip to avoid blocking the broadcaster

# Limitations

In-memory only, no persistence or replay, best-effort delivery, no
topic filtering (subscribers filter by Type themselves).

# See Also

  - pkg/reconciler, which publishes node.down
  - pkg/metrics, whose counters are updated inline rather than from events
  - Pub/sub pattern: https://en.wikipedia.org/wiki/Publish%E2%80%93subscribe_pattern
*/
package events
