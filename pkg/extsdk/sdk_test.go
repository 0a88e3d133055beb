// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package extsdk_test

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockhost/blockhost/pkg/blockext"
	"github.com/blockhost/blockhost/pkg/extsdk"
)

type greeter struct {
	blockext.MethodTable
}

func (g *greeter) Info() blockext.Info {
	return blockext.Info{
		ID:     "greeter",
		Blocks: []blockext.Block{{Opcode: "hello", BlockType: blockext.BlockReporter}},
	}
}

func newGreeter() *greeter {
	g := &greeter{}
	g.Set("hello", blockext.BlockMethod(func(_ context.Context, args blockext.Args, _ blockext.Util) (any, error) {
		name, _ := args.Value("NAME")
		return "hello " + name.(string), nil
	}))
	g.Set("fail", blockext.BlockMethod(func(context.Context, blockext.Args, blockext.Util) (any, error) {
		return nil, errors.New("boom")
	}))
	return g
}

// pipeClient serves the extension over an in-memory connection.
func pipeClient(t *testing.T, ext extsdk.Extension) *extsdk.RPCClient {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("Plugin", extsdk.NewRPCServer(ext)))

	hostConn, extConn := net.Pipe()
	go server.ServeConn(extConn)

	client := rpc.NewClient(hostConn)
	t.Cleanup(func() { _ = client.Close() })
	return extsdk.NewRPCClient(client)
}

func TestServeConfig_ExtensionRequired(t *testing.T) {
	defer func() {
		r := recover()
		assert.NotNil(t, r, "Serve should panic with nil Extension")
	}()

	extsdk.Serve(&extsdk.ServeConfig{Extension: nil})
}

func TestServeConfig_ConfigRequired(t *testing.T) {
	defer func() {
		r := recover()
		assert.NotNil(t, r, "Serve should panic with nil config")
	}()

	extsdk.Serve(nil)
}

func TestHandshakeConfig(t *testing.T) {
	assert.Equal(t, uint(1), extsdk.HandshakeConfig.ProtocolVersion)
	assert.Equal(t, "BLOCKHOST_EXTENSION", extsdk.HandshakeConfig.MagicCookieKey)
	assert.Equal(t, "blockhost-v1", extsdk.HandshakeConfig.MagicCookieValue)
}

func TestPlugin_ServerRequiresImpl(t *testing.T) {
	p := &extsdk.Plugin{}
	_, err := p.Server(nil)
	assert.Error(t, err)
}

func TestRPC_InfoAndCall(t *testing.T) {
	client := pipeClient(t, newGreeter())
	ctx := context.Background()

	info, err := client.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "greeter", info.ID)
	assert.Equal(t, []string{"hello"}, info.Opcodes())

	out, err := client.Call(ctx, "hello", blockext.Args{Values: map[string]any{"NAME": "world"}}, blockext.Util{})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestRPC_CallErrors(t *testing.T) {
	client := pipeClient(t, newGreeter())
	ctx := context.Background()

	_, err := client.Call(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown extension method")

	_, err = client.Call(ctx, "fail", blockext.Args{}, blockext.Util{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRPC_CallHonorsContext(t *testing.T) {
	client := pipeClient(t, newGreeter())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Call(ctx, "hello", blockext.Args{Values: map[string]any{"NAME": "x"}})
	assert.ErrorIs(t, err, context.Canceled)
}
