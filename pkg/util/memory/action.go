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

package memory

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ggy8784/Impala/pkg/util/logutil"
)

// ActionOnExceed is the action taken when memory usage exceeds the quota.
// All implementors must be safe for concurrent use.
type ActionOnExceed interface {
	// Action is called when the consumption of the tracker crosses its limit.
	Action(t *Tracker)
	// SetFallback sets an action to be triggered when this one has nothing
	// left to do.
	SetFallback(a ActionOnExceed)
	// GetFallback returns the fallback action.
	GetFallback() ActionOnExceed
}

// BaseOOMAction carries the fallback chain for an ActionOnExceed.
type BaseOOMAction struct {
	mu             sync.Mutex
	fallbackAction ActionOnExceed
}

// SetFallback implements ActionOnExceed.
func (b *BaseOOMAction) SetFallback(a ActionOnExceed) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallbackAction = a
}

// GetFallback implements ActionOnExceed.
func (b *BaseOOMAction) GetFallback() ActionOnExceed {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fallbackAction
}

// TriggerFallback fires the fallback action, if any.
func (b *BaseOOMAction) TriggerFallback(t *Tracker) {
	fallback := b.GetFallback()
	if fallback != nil {
		fallback.Action(t)
	}
}

// LogOnExceed logs a warning the first time the quota is exceeded.
type LogOnExceed struct {
	BaseOOMAction
	logOnce sync.Once
}

// Action implements ActionOnExceed.
func (a *LogOnExceed) Action(t *Tracker) {
	a.logOnce.Do(func() {
		logutil.BgLogger().Warn("memory exceeds quota",
			zap.String("label", t.Label()),
			zap.Int64("quota", t.GetBytesLimit()),
			zap.String("consumed", FormatBytes(t.BytesConsumed())))
	})
}

// PanicOnExceed panics when the quota is exceeded. Used in tests.
type PanicOnExceed struct {
	BaseOOMAction
	mu      sync.Mutex
	acted   bool
	Message string
}

// Action implements ActionOnExceed.
func (a *PanicOnExceed) Action(*Tracker) {
	a.mu.Lock()
	acted := a.acted
	a.acted = true
	a.mu.Unlock()
	if acted {
		return
	}
	msg := a.Message
	if msg == "" {
		msg = "Out Of Memory Quota!"
	}
	panic(msg)
}
