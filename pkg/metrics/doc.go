/*
Package metrics provides Prometheus metrics collection and exposition
for the kernel.

Metrics are defined and registered at package init using the Prometheus
client library, giving observability into frame lifecycle, RPC traffic,
mailbox backlog, TCP retry behavior, atlas routing-table size, and
placement reconciliation. Metrics are exposed via an HTTP endpoint for
scraping.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Categories               │          │
	│  │                                              │          │
	│  │  Frame: counts by lifecycle state            │          │
	│  │  RPC: in-flight calls, call duration         │          │
	│  │  Mailbox: pending correlated sends           │          │
	│  │  TCP: retry count                            │          │
	│  │  Atlas: routing record counts by role         │          │
	│  │  Reconciler: cycle duration/count, node-down  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Collection Model

Two update styles coexist, matching whichever is cheaper to get right
at the call site:

  - Inline: CallsInFlight/CallDuration (pkg/node's RPC dispatch) and
    TCPRetriesTotal (pkg/tcp's retry loop) are updated directly where
    the event happens — a single Inc/Dec/Observe, no polling needed.
  - Polled: FramesTotal, AtlasRecordsTotal, and MailboxPending reflect
    live collection state (a frame registry, a routing table, a set of
    open mailboxes) that's cheaper to snapshot periodically than to
    keep incrementally in sync across every mutation site. Collector
    does this on a ticker.

# Metrics Catalog

schemat_frames_total{state}: Gauge. Frames by lifecycle state (new,
starting, running, paused, stopping, stopped).

schemat_calls_in_flight: Gauge. RPC calls currently awaiting a result.

schemat_call_duration_seconds: Histogram. Time from RPC dispatch to
result, across all five routing outcomes of spec §4.8.

schemat_mailbox_pending: Gauge. In-flight mailbox sends awaiting a
correlated result, summed across every open IPC channel.

schemat_tcp_retries_total: Counter. Frames resent by the TCP sender's
retry loop.

schemat_atlas_records_total{role}: Gauge. fid-bearing routing records,
by role ($leader, $replica, $master, ...).

schemat_reconciliation_duration_seconds / _cycles_total: Histogram and
counter around the placement reconciler's tick.

schemat_nodes_down_total: Counter. Nodes the reconciler has marked down
after consecutive failed TCP dial probes.

# Liveness and readiness

HealthChecker (health.go) is unrelated to the Prometheus registry: it
tracks named component health (kernel, atlas, storage) for /health,
/ready, /live. It does not use pkg/health; the TCP dial probe there
serves the reconciler's node-liveness checks.

# See Also

  - pkg/reconciler for the reconciliation cycle these metrics describe
  - pkg/health for the TCP dial probe feeding node liveness
*/
package metrics
