/*
Package rpc defines the request/response envelope carried by the
Mailbox (pkg/mailbox), TCP (pkg/tcp) and IPC (pkg/ipc) transports, per
spec §4.4 and the wire format of spec §6.

Args are pre-encoded to JSON at the call site (EncodeArgs) so the
envelope as a whole is always JSON-safe; a call's "jsonxArgs" is
represented here as a plain JSON array of already-marshaled elements
rather than a doubly-encoded string, which round-trips identically
without the extra escaping layer.
*/
package rpc

import (
	"encoding/json"
	"strings"

	"github.com/mwojnars/schemat-sub000/pkg/types"
)

// DefaultRole is used when a request does not name one explicitly.
const DefaultRole = "$agent"

// Call is the [agentId, command, args] triple carried by a Request.
type Call struct {
	AgentID int64
	Command string
	Args    []json.RawMessage
}

// MarshalJSON encodes a Call as the 3-element array of spec §6.
func (c Call) MarshalJSON() ([]byte, error) {
	args := c.Args
	if args == nil {
		args = []json.RawMessage{}
	}
	return json.Marshal([3]any{c.AgentID, c.Command, args})
}

// UnmarshalJSON decodes the 3-element array form back into a Call.
func (c *Call) UnmarshalJSON(data []byte) error {
	var raw [3]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &c.AgentID); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &c.Command); err != nil {
		return err
	}
	var args []json.RawMessage
	if err := json.Unmarshal(raw[2], &args); err != nil {
		return err
	}
	c.Args = args
	return nil
}

// IsPrivate reports whether a command name is private (leading "_"),
// which forces the effective scope down to at most ScopeNode.
func IsPrivate(command string) bool {
	return strings.HasPrefix(command, "_")
}

// Request is the body of an RPC envelope (spec §4.4/§6).
type Request struct {
	RPC       Call            `json:"rpc"`
	Scope     types.Scope     `json:"scope,omitempty"`
	Worker    *int            `json:"worker,omitempty"`
	Node      string          `json:"node,omitempty"`
	Role      string          `json:"role,omitempty"`
	Broadcast bool            `json:"broadcast,omitempty"`
	Ctx       string          `json:"ctx,omitempty"`
	Tx        json.RawMessage `json:"tx,omitempty"`
}

// EffectiveScope applies the private-command restriction on top of the
// request's declared scope.
func (r *Request) EffectiveScope() types.Scope {
	scope := r.Scope
	if scope == "" {
		scope = types.ScopeCluster
	}
	if IsPrivate(r.RPC.Command) && scope == types.ScopeCluster {
		return types.ScopeNode
	}
	return scope
}

// EffectiveRole returns the request's role, defaulting to $agent.
func (r *Request) EffectiveRole() string {
	if r.Role == "" {
		return DefaultRole
	}
	return r.Role
}

// Response is the body of an RPC reply (spec §4.4/§6).
type Response struct {
	Ret     json.RawMessage   `json:"ret,omitempty"`
	Err     *Error            `json:"err,omitempty"`
	Records []json.RawMessage `json:"records,omitempty"`
}

// EncodeArgs marshals positional call arguments to JSON, truncating
// trailing nils and replacing interior nils with a JSON null, per
// spec §4.4.
func EncodeArgs(args ...any) ([]json.RawMessage, error) {
	encoded := make([]json.RawMessage, len(args))
	for i, a := range args {
		if a == nil {
			encoded[i] = json.RawMessage("null")
			continue
		}
		b, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		encoded[i] = b
	}
	// truncate trailing undefined (untyped nil) args
	end := len(encoded)
	for end > 0 && args[end-1] == nil {
		end--
	}
	return encoded[:end], nil
}
