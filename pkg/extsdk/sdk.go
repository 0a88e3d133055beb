// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package extsdk provides the SDK for building Blockhost binary extensions.
//
// Binary extensions run in their own process and talk to the host over
// HashiCorp go-plugin's net/rpc protocol. The host fetches the descriptor
// once and then calls block, menu and button methods by name.
//
// Example usage:
//
//	type Clock struct {
//		blockext.MethodTable
//	}
//
//	func (c *Clock) Info() blockext.Info {
//		return blockext.Info{
//			ID:     "clock",
//			Blocks: []blockext.Block{{Opcode: "now", BlockType: blockext.BlockReporter}},
//		}
//	}
//
//	func main() {
//		c := &Clock{}
//		c.Set("now", blockext.BlockMethod(func(context.Context, blockext.Args, blockext.Util) (any, error) {
//			return time.Now().Unix(), nil
//		}))
//		extsdk.Serve(&extsdk.ServeConfig{Extension: c})
//	}
package extsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/rpc"

	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/blockhost/blockhost/pkg/blockext"
)

// PluginName is the name the extension is dispensed under.
const PluginName = "extension"

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and extensions must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "BLOCKHOST_EXTENSION",
	MagicCookieValue: "blockhost-v1",
}

// ErrUnknownMethod is returned when the extension has no method of the
// requested name.
var ErrUnknownMethod = errors.New("unknown extension method")

// Extension is the interface binary extensions must implement.
type Extension interface {
	blockext.Extension
	blockext.MethodProvider
}

// ServeConfig configures the extension server.
type ServeConfig struct {
	// Extension is the implementation to serve.
	// Required; Serve will panic if nil.
	Extension Extension
}

// Serve starts the extension server. This should be called from main().
// It blocks and never returns under normal operation.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("extsdk: config cannot be nil")
	}
	if config.Extension == nil {
		panic("extsdk: config.Extension cannot be nil")
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hashiplug.Plugin{
			PluginName: &Plugin{Impl: config.Extension},
		},
	})
}

// Plugin implements go-plugin's net/rpc Plugin interface.
type Plugin struct {
	// Impl is used by the extension side (not used by the host).
	Impl Extension
}

// Server returns the RPC server (called by the extension process).
func (p *Plugin) Server(*hashiplug.MuxBroker) (interface{}, error) {
	if p.Impl == nil {
		return nil, errors.New("extsdk: extension implementation is nil")
	}
	return &RPCServer{impl: p.Impl}, nil
}

// Client returns the RPC client (called by the host process).
func (p *Plugin) Client(_ *hashiplug.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// RPCServer exposes an Extension over net/rpc.
type RPCServer struct {
	impl Extension
}

// NewRPCServer wraps impl. Used by in-process tests of the protocol.
func NewRPCServer(impl Extension) *RPCServer {
	return &RPCServer{impl: impl}
}

// Info returns the JSON-encoded descriptor.
func (s *RPCServer) Info(_ interface{}, resp *[]byte) error {
	data, err := json.Marshal(s.impl.Info())
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	*resp = data
	return nil
}

// Call invokes a method by name.
func (s *RPCServer) Call(req blockext.CallRequest, resp *blockext.CallResponse) error {
	fn, ok := s.impl.Method(req.Method)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMethod, req.Method)
	}
	args, err := req.DecodeArgs()
	if err != nil {
		return err
	}
	out, err := fn(context.Background(), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", req.Method, err)
	}
	encoded, err := blockext.EncodeResult(out)
	if err != nil {
		return err
	}
	*resp = encoded
	return nil
}

// RPCClient is the host-side view of a binary extension.
type RPCClient struct {
	client *rpc.Client
}

// NewRPCClient wraps an established net/rpc client.
func NewRPCClient(c *rpc.Client) *RPCClient {
	return &RPCClient{client: c}
}

// Info fetches the extension descriptor.
func (c *RPCClient) Info(ctx context.Context) (blockext.Info, error) {
	var data []byte
	if err := c.call(ctx, "Plugin.Info", new(interface{}), &data); err != nil {
		return blockext.Info{}, err
	}
	var info blockext.Info
	if err := json.Unmarshal(data, &info); err != nil {
		return blockext.Info{}, fmt.Errorf("decode descriptor: %w", err)
	}
	return info, nil
}

// Call invokes a method on the extension and returns its generic result.
func (c *RPCClient) Call(ctx context.Context, method string, args ...any) (any, error) {
	req, err := blockext.EncodeCall(method, args)
	if err != nil {
		return nil, err
	}
	var resp blockext.CallResponse
	if err := c.call(ctx, "Plugin.Call", req, &resp); err != nil {
		return nil, err
	}
	return resp.Decode()
}

func (c *RPCClient) call(ctx context.Context, name string, args, reply any) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck // caller sees the context error as-is
	}
	call := c.client.Go(name, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck // caller sees the context error as-is
	case done := <-call.Done:
		if done.Error != nil {
			return fmt.Errorf("%s: %w", name, done.Error)
		}
		return nil
	}
}
