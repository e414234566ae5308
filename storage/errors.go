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


package storage

import "errors"

// Errors returned by every backend. Backends wrap driver errors with these
// so callers can match them without importing the driver.
var (
	// ErrNotFound is returned when a chunk, dead letter or cache entry does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorageClosed is returned by operations on a closed backend.
	ErrStorageClosed = errors.New("store closed")

	// ErrInvalidQuery is returned for a vector query with a non-positive
	// limit, an empty vector or no model version.
	ErrInvalidQuery = errors.New("invalid vector query")

	// ErrSerializationFailed wraps mus decoding failures of stored records.
	ErrSerializationFailed = errors.New("stored record is corrupt")
)
