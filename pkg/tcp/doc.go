/*
Package tcp implements the persistent node-to-node transport of spec
§4.2 (C2): newline-terminated JSON messages over long-lived TCP
connections, a sender that retries an unacknowledged message until the
peer responds, and a receiver that suppresses duplicate execution (but
always re-acknowledges) using a per-connection highest-processed id.

No teacher analogue (warren's inter-node transport is grpc); grounded
directly on spec §4.2/§6's wire format. Each message is written with
a trailing newline; the decode loops on both sides use json.Decoder,
which concatenates partial reads and splits the stream into one JSON
value per message.
*/
package tcp
