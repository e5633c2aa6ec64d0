// Copyright 2025 Antfly, Inc.
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

package backends

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Wrapped errors carry the
// detail; handlers classify with errors.Is and decide how much of the
// detail may leave the process.
var (
	// ErrNotFound means the artifact path does not exist.
	ErrNotFound = errors.New("model artifact not found")

	// ErrValidation means the request is missing or malformed for the
	// declared input kind. Detected before any backend work.
	ErrValidation = errors.New("invalid request")

	// ErrUnsupportedBackend means no registered backend can serve the
	// resolved kind in this build.
	ErrUnsupportedBackend = errors.New("unsupported backend")

	// ErrLoadFailure means the artifact exists but no candidate backend
	// could construct a model from it.
	ErrLoadFailure = errors.New("model load failed")

	// ErrInference means the backend raised during execution: shape
	// mismatch, unsupported operator, decode failure.
	ErrInference = errors.New("inference failed")
)

// ValidationError creates an ErrValidation with a caller-visible cause.
func ValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// LoadError creates an ErrLoadFailure carrying backend-identifying context.
func LoadError(kind BackendKind, err error) error {
	return fmt.Errorf("%w: %s backend: %w", ErrLoadFailure, kind, err)
}

// InferenceError creates an ErrInference carrying backend-identifying context.
func InferenceError(kind BackendKind, err error) error {
	return fmt.Errorf("%w: %s backend: %w", ErrInference, kind, err)
}
