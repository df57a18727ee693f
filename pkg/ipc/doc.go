/*
Package ipc implements the parent↔child process message channel of
spec §4.3 (C3): one Mailbox per child, built directly on pkg/mailbox,
with newline-delimited JSON framing identical in shape to pkg/tcp but
without retry or duplicate suppression — the channel (a pipe) is
reliable, unlike a TCP socket that can drop and reconnect.

The master holds one Channel per worker process; each worker holds one
Channel to its parent (spec §4.7).
*/
package ipc
