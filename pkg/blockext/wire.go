// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package blockext

import (
	"encoding/json"
	"fmt"
)

// CallRequest is the transport form of a method call on an extension that
// lives outside the host process. Arguments travel as a JSON array.
type CallRequest struct {
	Method string
	Args   []byte
}

// CallResponse carries the JSON-encoded result of a CallRequest.
type CallResponse struct {
	Result []byte
}

// EncodeCall builds a CallRequest.
func EncodeCall(method string, args []any) (CallRequest, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return CallRequest{}, fmt.Errorf("encode args for %s: %w", method, err)
	}
	return CallRequest{Method: method, Args: data}, nil
}

// DecodeArgs returns the generic argument values of the request.
func (r CallRequest) DecodeArgs() ([]any, error) {
	if len(r.Args) == 0 {
		return nil, nil
	}
	var args []any
	if err := json.Unmarshal(r.Args, &args); err != nil {
		return nil, fmt.Errorf("decode args for %s: %w", r.Method, err)
	}
	return args, nil
}

// EncodeResult builds a CallResponse.
func EncodeResult(v any) (CallResponse, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return CallResponse{}, fmt.Errorf("encode result: %w", err)
	}
	return CallResponse{Result: data}, nil
}

// Decode returns the generic result value.
func (r CallResponse) Decode() (any, error) {
	if len(r.Result) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(r.Result, &v); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return v, nil
}

// Generic converts v to the value tree produced by decoding its JSON form:
// maps, slices, strings, float64 numbers, booleans and nil.
func Generic(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}

// InfoFromValue decodes a descriptor from a generic value tree or a
// concrete Info.
func InfoFromValue(v any) (Info, error) {
	var info Info
	switch typed := v.(type) {
	case Info:
		return typed, nil
	case *Info:
		if typed == nil {
			return Info{}, fmt.Errorf("nil descriptor")
		}
		return *typed, nil
	case nil:
		return Info{}, fmt.Errorf("nil descriptor")
	}
	if err := convert(v, &info); err != nil {
		return Info{}, fmt.Errorf("decode descriptor: %w", err)
	}
	return info, nil
}
