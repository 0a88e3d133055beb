// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package extension

import (
	"sort"

	"github.com/samber/oops"
)

// Error codes for extension host failures.
const (
	// Validation.
	CodeInvalidID   = "INVALID_EXTENSION_ID"
	CodeMissingOp   = "MISSING_OPCODE"
	CodeReservedID  = "RESERVED_EXTENSION_ID"
	CodeEmptyMenu   = "EMPTY_MENU"
	CodeInvalidLib  = "INVALID_LIBRARY"
	CodeInvalidInfo = "INVALID_DESCRIPTOR"

	// Conflict.
	CodeOpcodeNotFound   = "OPCODE_NOT_FOUND"
	CodeBlockTypeChanged = "BLOCK_TYPE_CHANGED"
	CodeOpcodeInUse      = "OPCODE_IN_USE"

	// NotFound.
	CodeNotFound       = "EXTENSION_NOT_FOUND"
	CodeUnknownBuiltin = "UNKNOWN_BUILTIN"

	// Transport.
	CodeWorkerInit   = "WORKER_INIT_FAILED"
	CodeWorkerCreate = "WORKER_CREATE_FAILED"

	// Warning class: callers treat these as non-fatal.
	CodeAlreadyLoaded = "EXTENSION_ALREADY_LOADED"
)

// valuesKey is the context key carrying the sorted opcodes of a conflict.
const valuesKey = "values"

func oopsErr() oops.OopsErrorBuilder {
	return oops.In("extension")
}

func newErr(code string) oops.OopsErrorBuilder {
	return oopsErr().Code(code)
}

// ErrInvalidID creates an error for an identifier outside [A-Za-z0-9_.-]+.
func ErrInvalidID(id string) error {
	return newErr(CodeInvalidID).
		With("extension", id).
		Errorf("invalid extension id %q", id)
}

// ErrReservedID creates an error for an identifier in a reserved namespace.
func ErrReservedID(id string) error {
	return newErr(CodeReservedID).
		With("extension", id).
		Errorf("extension id %q is reserved", id)
}

// ErrMissingOpcode creates an error for a callable block without opcode.
func ErrMissingOpcode(id string, index int) error {
	return newErr(CodeMissingOp).
		With("extension", id).
		With("index", index).
		Errorf("block %d of %s has no opcode", index, id)
}

// ErrEmptyMenu creates an error for a menu that produced no items.
func ErrEmptyMenu(id, menu string) error {
	return newErr(CodeEmptyMenu).
		With("extension", id).
		With("menu", menu).
		Errorf("menu %s of %s has no items", menu, id)
}

// ErrInvalidLibrary wraps a library document problem.
func ErrInvalidLibrary(url string, cause error) error {
	return newErr(CodeInvalidLib).
		With("url", url).
		Wrapf(cause, "invalid extension library %s", url)
}

// ErrInvalidDescriptor wraps a descriptor that could not be decoded.
func ErrInvalidDescriptor(service string, cause error) error {
	return newErr(CodeInvalidInfo).
		With("service", service).
		Wrapf(cause, "invalid descriptor from %s", service)
}

// ErrOpcodeNotFound creates an error listing in-use opcodes the incoming
// version no longer declares.
func ErrOpcodeNotFound(id string, opcodes []string) error {
	return conflict(CodeOpcodeNotFound, id, opcodes).
		Errorf("extension %s no longer provides opcodes in use: %v", id, opcodes)
}

// ErrBlockTypeChanged creates an error listing in-use opcodes whose block
// type differs in the incoming version.
func ErrBlockTypeChanged(id string, opcodes []string) error {
	return conflict(CodeBlockTypeChanged, id, opcodes).
		Errorf("extension %s changes the block type of opcodes in use: %v", id, opcodes)
}

// ErrOpcodeInUse creates an error listing opcodes blocking a deletion.
func ErrOpcodeInUse(id string, opcodes []string) error {
	return conflict(CodeOpcodeInUse, id, opcodes).
		Errorf("extension %s is used by opcodes: %v", id, opcodes)
}

func conflict(code, id string, opcodes []string) oops.OopsErrorBuilder {
	sorted := append([]string(nil), opcodes...)
	sort.Strings(sorted)
	return newErr(code).
		With("extension", id).
		With(valuesKey, sorted)
}

// ErrNotFound creates an error for an id or URL nothing could resolve.
func ErrNotFound(ref string) error {
	return newErr(CodeNotFound).
		With("extension", ref).
		Errorf("extension %s not found", ref)
}

// ErrUnknownBuiltin creates an error for an id missing from the builtin table.
func ErrUnknownBuiltin(id string) error {
	return newErr(CodeUnknownBuiltin).
		With("extension", id).
		Errorf("unknown builtin extension %s", id)
}

// ErrWorkerInit wraps a failure reported by a worker during setup.
func ErrWorkerInit(url string, workerID int, cause error) error {
	return newErr(CodeWorkerInit).
		With("url", url).
		With("worker", workerID).
		Wrapf(cause, "worker %d failed to load %s", workerID, url)
}

// ErrWorkerCreate wraps a transport failure creating a worker.
func ErrWorkerCreate(url string, cause error) error {
	return newErr(CodeWorkerCreate).
		With("url", url).
		Wrapf(cause, "create worker for %s", url)
}

// ErrAlreadyLoaded creates the warning-class error for a duplicate load.
func ErrAlreadyLoaded(id string) error {
	return newErr(CodeAlreadyLoaded).
		With("extension", id).
		Errorf("extension %s is already loaded", id)
}

// Code returns the error code of err, or "" for non-coded errors.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := any(oopsErr.Code()).(string)
	return code
}

// Values returns the sorted opcodes attached to a conflict error.
func Values(err error) []string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	values, _ := oopsErr.Context()[valuesKey].([]string)
	return values
}

// IsWarning reports whether err is non-fatal for callers.
func IsWarning(err error) bool {
	return Code(err) == CodeAlreadyLoaded
}
