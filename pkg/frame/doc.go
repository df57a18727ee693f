/*
Package frame implements the Frame lifecycle of spec §4.6 (C6): the
wrapper a Kernel installs around a live Agent, taking it through
New → Starting → Running ↔ Paused → Stopping → Stopped, serializing or
interleaving calls according to the agent's concurrency declaration,
and running the periodic restart/background schedulers.

Grounded on the teacher's container lifecycle in
pkg/runtime/containerd.go (StartContainer/StopContainer's graceful-
then-forced shutdown with a timeout, and status polling) and on the
ticker-driven monitor loop of pkg/worker/health_monitor.go, generalized
from one-shot container processes to long-lived, restartable, pausable
web-object frames with a cooperative call scheduler.

Host is the narrow interface a Frame needs from its owning Kernel
(reloading the backing agent, running code under the application
context, removing itself from the registry on stop) — kept here rather
than importing the kernel package to avoid the import cycle described
in DESIGN.md.
*/
package frame
