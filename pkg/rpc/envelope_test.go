package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwojnars/schemat-sub000/pkg/types"
)

func TestCall_JSONRoundTrip_ThreeElementArray(t *testing.T) {
	args, err := EncodeArgs("x", 42)
	require.NoError(t, err)
	c := Call{AgentID: 7, Command: "echo", Args: args}

	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `[7,"echo",["x",42]]`, string(b))

	var got Call
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, c.AgentID, got.AgentID)
	assert.Equal(t, c.Command, got.Command)
	require.Len(t, got.Args, 2)
	assert.JSONEq(t, `"x"`, string(got.Args[0]))
	assert.JSONEq(t, `42`, string(got.Args[1]))
}

func TestCall_MarshalJSON_NilArgsEncodesAsEmptyArray(t *testing.T) {
	c := Call{AgentID: 1, Command: "ping"}
	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,"ping",[]]`, string(b))
}

func TestIsPrivate(t *testing.T) {
	assert.True(t, IsPrivate("_internal"))
	assert.False(t, IsPrivate("public"))
}

func TestRequest_EffectiveScope_DefaultsToCluster(t *testing.T) {
	r := Request{RPC: Call{Command: "echo"}}
	assert.Equal(t, types.ScopeCluster, r.EffectiveScope())
}

func TestRequest_EffectiveScope_PrivateCommandForcesNodeAtMost(t *testing.T) {
	r := Request{RPC: Call{Command: "_secret"}, Scope: types.ScopeCluster}
	assert.Equal(t, types.ScopeNode, r.EffectiveScope())

	// a private command explicitly scoped to process stays at process;
	// only cluster gets pulled down.
	r2 := Request{RPC: Call{Command: "_secret"}, Scope: types.ScopeProcess}
	assert.Equal(t, types.ScopeProcess, r2.EffectiveScope())
}

func TestRequest_EffectiveRole_DefaultsToAgent(t *testing.T) {
	r := Request{}
	assert.Equal(t, DefaultRole, r.EffectiveRole())

	r2 := Request{Role: "$master"}
	assert.Equal(t, "$master", r2.EffectiveRole())
}

func TestEncodeArgs_TruncatesTrailingNilsButKeepsInteriorOnes(t *testing.T) {
	args, err := EncodeArgs("a", nil, "b", nil, nil)
	require.NoError(t, err)
	require.Len(t, args, 3)
	assert.JSONEq(t, `"a"`, string(args[0]))
	assert.JSONEq(t, `null`, string(args[1]))
	assert.JSONEq(t, `"b"`, string(args[2]))
}

func TestEncodeArgs_AllNilTruncatesToEmpty(t *testing.T) {
	args, err := EncodeArgs(nil, nil)
	require.NoError(t, err)
	assert.Len(t, args, 0)
}
