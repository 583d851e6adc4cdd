// Copyright 2024 The Impala-Go Authors.
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

package sqlkiller

import (
	"github.com/pingcap/errors"
	atomicutil "go.uber.org/atomic"
)

// ErrQueryInterrupted is returned by HandleSignal once Kill was observed.
var ErrQueryInterrupted = errors.New("query interrupted")

// SQLKiller is a cooperative cancellation token. The engine sets the signal
// from another goroutine; operators poll it at batch boundaries.
type SQLKiller struct {
	signal atomicutil.Bool
}

// Kill raises the cancellation signal.
func (k *SQLKiller) Kill() {
	k.signal.Store(true)
}

// Reset clears the signal for statement reuse.
func (k *SQLKiller) Reset() {
	k.signal.Store(false)
}

// HandleSignal returns ErrQueryInterrupted if the query was killed.
func (k *SQLKiller) HandleSignal() error {
	if k.signal.Load() {
		return errors.Trace(ErrQueryInterrupted)
	}
	return nil
}
