// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockhost/blockhost/pkg/blockext"
)

// ErrMethodNotFound is returned when a service has no method of the given name.
var ErrMethodNotFound = errors.New("method not found")

// LocalService exposes an in-process object on the fabric. Methods are
// resolved on every call, so methods bound after registration are found.
type LocalService struct {
	instance any
}

var _ Service = (*LocalService)(nil)

// NewLocalService wraps instance. It may implement blockext.Extension,
// blockext.MethodProvider, or both.
func NewLocalService(instance any) *LocalService {
	return &LocalService{instance: instance}
}

// Instance returns the wrapped object.
func (s *LocalService) Instance() any {
	return s.instance
}

// IsLocal implements Service.
func (s *LocalService) IsLocal() bool {
	return true
}

// Method resolves name on the instance. getInfo is answered from the
// Extension interface unless the provider overrides it.
func (s *LocalService) Method(name string) (blockext.Method, bool) {
	if p, ok := s.instance.(blockext.MethodProvider); ok {
		if fn, ok := p.Method(name); ok {
			return fn, true
		}
	}
	if name == blockext.MethodGetInfo {
		if ext, ok := s.instance.(blockext.Extension); ok {
			return func(context.Context, ...any) (any, error) {
				return ext.Info(), nil
			}, true
		}
	}
	return nil, false
}

// Has reports whether the instance currently answers name.
func (s *LocalService) Has(name string) bool {
	_, ok := s.Method(name)
	return ok
}

// Call implements Service.
func (s *LocalService) Call(ctx context.Context, method string, args ...any) (any, error) {
	fn, ok := s.Method(method)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
	return fn(ctx, args...)
}
