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

var (
	// ErrNotFound indicates that the requested key does not exist or has expired.
	ErrNotFound = errors.New("key not found")

	// ErrBackendClosed indicates that the backend has been closed.
	ErrBackendClosed = errors.New("cache backend is closed")

	// ErrInvalidValue indicates a stored value could not be interpreted,
	// for example a counter that is not a decimal integer.
	ErrInvalidValue = errors.New("invalid stored value")

	// ErrBackendRequired indicates a nil backend was passed to a constructor.
	ErrBackendRequired = errors.New("cache backend is required")
)
