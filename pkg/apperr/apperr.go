// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apperr defines the domain error taxonomy shared by the model
// registry, the tool-server manager and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error. The HTTP layer maps kinds to status codes.
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindInvalidConfig         Kind = "invalid_config"
	KindValidation            Kind = "validation"
	KindProviderNotConfigured Kind = "provider_not_configured"
	KindProviderUnsupported   Kind = "provider_unsupported"
	KindDisabled              Kind = "disabled"
	KindNoResources           Kind = "no_resources"
	KindOperationFailed       Kind = "operation_failed"
	KindLLMNoOutput           Kind = "llm_no_output"
	KindLLMStream             Kind = "llm_stream_error"
	KindInternal              Kind = "internal"
)

// Error is a classified error carrying structured context for clients.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code clients see for this error.
func (e *Error) HTTPStatus() int {
	return StatusFor(e.Kind)
}

// StatusFor maps a kind to an HTTP status code.
func StatusFor(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidConfig, KindProviderUnsupported, KindDisabled, KindNoResources:
		return http.StatusBadRequest
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindProviderNotConfigured, KindLLMNoOutput, KindLLMStream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// With returns a copy of e with key=value added to its context.
func (e *Error) With(key string, value any) *Error {
	ctx := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	clone := *e
	clone.Context = ctx
	return &clone
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func ModelNotFound(key string) *Error {
	return New(KindNotFound, "Model configuration '%s' not found", key).With("model_key", key)
}

func InvalidConfig(format string, args ...any) *Error {
	return New(KindInvalidConfig, format, args...)
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func ProviderNotConfigured(provider, secret string) *Error {
	return &Error{
		Kind:    KindProviderNotConfigured,
		Message: fmt.Sprintf("Provider '%s' is not configured correctly", provider),
		Context: map[string]any{"provider": provider, "secret": secret},
	}
}

func ProviderUnsupported(provider string) *Error {
	return New(KindProviderUnsupported, "Unsupported LLM provider '%s'", provider).With("provider", provider)
}

func ServerNotFound(name string) *Error {
	return New(KindNotFound, "MCP server '%s' not found in configuration", name).With("server_name", name)
}

func ServerDisabled(name string) *Error {
	return New(KindDisabled, "MCP server '%s' is disabled", name).With("server_name", name)
}

func ServerReloadFailed(name string, err error) *Error {
	return Wrap(KindOperationFailed, err, "Failed to reload MCP server '%s'", name).With("server_name", name)
}

func NoServersAvailable() *Error {
	return New(KindNoResources, "No enabled MCP servers available to reload")
}

func LLMNoOutput() *Error {
	return New(KindLLMNoOutput, "LLM did not return output")
}

func LLMStream(err error) *Error {
	return Wrap(KindLLMStream, err, "LLM streaming output ended unexpectedly")
}
