/*
Package health provides a TCP dial probe and consecutive-failure
status tracker used to detect unreachable cluster peers.

The original teacher package covered HTTP, TCP, and exec health checks
against running containers. Schemat has no external workloads to
probe this way: agents are in-process Go objects, and there is no
separate container runtime to check the liveness of. Only the TCP
checker survives, repurposed to dial a peer node's TCP transport
address rather than a container's published port.

# Architecture

	┌─────────────────────────────────────────────┐
	│               Checker Interface               │
	│  • Check(ctx) Result                           │
	│  • Type() CheckType                            │
	└────────────────────┬──────────────────────────┘
	                     │
	                     ▼
	               ┌──────────┐
	               │TCPChecker│
	               └────┬─────┘
	                    │
	                    ▼
	              Dial peer's
	              tcp_address

# Core Components

Checker interface:
  - Check(ctx) Result, Type() CheckType — polymorphic so callers
    don't need to special-case the probe kind.

TCPChecker:
  - Dials Address with a bounded Timeout (default 5s); healthy iff
    the connection succeeds.

Result:
  - Healthy, Message, CheckedAt, Duration.

Status:
  - ConsecutiveFailures/ConsecutiveSuccesses/Healthy, updated by
    Update(result, config) against a Config's Retries threshold —
    hysteresis so a single dropped probe doesn't flap a peer's
    liveness state.

# Usage

	checker := health.NewTCPChecker(peer.TCPAddress).WithTimeout(2 * time.Second)
	result := checker.Check(ctx)

	status := health.NewStatus()
	status.Update(result, health.DefaultConfig())
	if !status.Healthy {
		// evict the peer's placements
	}

# Design Patterns

Hysteresis: Healthy -> N consecutive failures -> Unhealthy, one
success resets the streak. Prevents a single blip from evicting a
node's entire placement set.

Context-based cancellation: Check respects the ctx passed to it in
addition to its own Timeout, so a caller's overall probe budget for a
reconciliation cycle still bounds a single slow dial.

# Integration Points

  - pkg/reconciler dials every peer it knows (node.Node.Peers) each
    cycle and marks a node down once its Status crosses the retry
    threshold, evicting its atlas placements.

# See Also

  - pkg/reconciler for the node-down detection loop this feeds
*/
package health
