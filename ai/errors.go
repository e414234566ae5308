// Copyright 2025 Poiesic Systems
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


package ai

import (
	"fmt"

	"github.com/poiesic/conductor/core"
)

// ProviderError is returned by provider implementations. Kind classifies the
// failure so callers can decide whether to retry.
type ProviderError struct {
	Kind     core.ErrorKind
	Provider string
	Err      error
}

// NewProviderError wraps err with the given classification.
func NewProviderError(provider string, kind core.ErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Err: err}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is maps the classification onto the core error taxonomy.
func (e *ProviderError) Is(target error) bool {
	switch e.Kind {
	case core.ErrorKindRateLimited:
		return target == core.ErrProviderRateLimited
	case core.ErrorKindUnavailable:
		return target == core.ErrProviderUnavailable
	case core.ErrorKindInvalidRequest:
		return target == core.ErrInvalidRequest
	case core.ErrorKindTimeout:
		return target == core.ErrTimeout
	}
	return false
}
