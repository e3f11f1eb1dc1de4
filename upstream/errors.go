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

package upstream

import (
	"errors"
	"fmt"

	"github.com/poiesic/metasearch/core"
)

// Kind classifies an upstream failure.
type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindStatus    Kind = "status"
	KindTransport Kind = "transport"
	KindPayload   Kind = "payload"
	// KindUnavailable marks calls refused without reaching the federator,
	// such as by an open circuit breaker.
	KindUnavailable Kind = "unavailable"
)

// ErrBaseURLRequired indicates the client was configured without a federator URL.
var ErrBaseURLRequired = errors.New("upstream base URL is required")

// Error is a typed upstream failure. It wraps core.ErrUpstream and the cause.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindStatus:
		return fmt.Sprintf("%s: federator returned status %d", core.ErrUpstream, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", core.ErrUpstream, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", core.ErrUpstream, e.Kind)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{core.ErrUpstream}
	}
	return []error{core.ErrUpstream, e.Err}
}

// IsTimeout reports whether err is an upstream timeout.
func IsTimeout(err error) bool {
	var uerr *Error
	return errors.As(err, &uerr) && uerr.Kind == KindTimeout
}
