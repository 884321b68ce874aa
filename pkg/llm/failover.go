// Copyright 2025 Tom Barlow
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

package llm

import (
	"context"
	"errors"
	"net"

	corperrors "github.com/tombee/opencorp/pkg/errors"
)

// ShouldFailover reports whether err is a transport-level failure for a
// single model, in which case the caller moves on to the next candidate.
//
// Every HTTP error status counts, including 4xx: a model the backend rejects
// is as unusable as one that is down. Cancellation by the caller does not.
func ShouldFailover(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var provErr *corperrors.ProviderError
	if errors.As(err, &provErr) {
		return true
	}

	var timeoutErr *corperrors.TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
