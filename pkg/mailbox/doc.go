/*
Package mailbox implements the correlated request/response layer of
spec §4.1 (C1): every Send assigns a correlation id, tracks a pending
entry, and resolves a future when the peer's response frame arrives;
Notify fires a message with id=0 and never awaits a reply. It underlies
both the IPC transport (pkg/ipc, directly) and informs the pending-map
shape used by the TCP transport (pkg/tcp, which adds retry and
duplicate suppression on top of the same correlation idea).

No teacher analogue exists (warren routes everything through grpc); the
design follows spec §4.1/§9 ("Mailbox that stores promises" — realized
here as map<id, chan Result> plus a single sweeper goroutine).
*/
package mailbox
