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
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/docker/go-units"
)

// Tracker tracks the memory usage of a component during execution. Trackers
// form a tree: consumption reported to a tracker is also reported to all of
// its ancestors. A tracker with bytesLimit > 0 fires its ActionOnExceed on
// every positive Consume that leaves its consumption at or above the limit;
// actions that must act once guard themselves.
//
// Consume is safe for concurrent use. AttachTo/Detach are not and must happen
// before the tracker is shared.
type Tracker struct {
	label         string
	bytesConsumed int64
	maxConsumed   int64
	bytesLimit    int64

	actionMu struct {
		sync.Mutex
		actionOnExceed ActionOnExceed
	}
	mu struct {
		sync.Mutex
		children []*Tracker
	}
	parent *Tracker
}

// NewTracker creates a Tracker. bytesLimit <= 0 means no limit.
func NewTracker(label string, bytesLimit int64) *Tracker {
	return &Tracker{label: label, bytesLimit: bytesLimit}
}

// Label returns the label of the tracker.
func (t *Tracker) Label() string { return t.label }

// SetBytesLimit sets the limit. bytesLimit <= 0 means no limit.
func (t *Tracker) SetBytesLimit(bytesLimit int64) {
	atomic.StoreInt64(&t.bytesLimit, bytesLimit)
}

// GetBytesLimit returns the limit, or -1 when unlimited.
func (t *Tracker) GetBytesLimit() int64 {
	limit := atomic.LoadInt64(&t.bytesLimit)
	if limit <= 0 {
		return -1
	}
	return limit
}

// SetActionOnExceed sets the action to fire when the limit is exceeded.
func (t *Tracker) SetActionOnExceed(a ActionOnExceed) {
	t.actionMu.Lock()
	defer t.actionMu.Unlock()
	t.actionMu.actionOnExceed = a
}

// FallbackOldAndSetNewAction puts the current action behind the new one as
// its fallback, so the new action fires first.
func (t *Tracker) FallbackOldAndSetNewAction(a ActionOnExceed) {
	t.actionMu.Lock()
	defer t.actionMu.Unlock()
	a.SetFallback(t.actionMu.actionOnExceed)
	t.actionMu.actionOnExceed = a
}

// AttachTo attaches the tracker to a parent. Consumption already recorded in
// the tracker is transferred to the new parent chain.
func (t *Tracker) AttachTo(parent *Tracker) {
	if t.parent != nil {
		t.parent.remove(t)
	}
	parent.mu.Lock()
	parent.mu.children = append(parent.mu.children, t)
	parent.mu.Unlock()
	t.parent = parent
	t.parent.Consume(t.BytesConsumed())
}

// Detach detaches the tracker from its parent and releases its consumption
// from the parent chain.
func (t *Tracker) Detach() {
	if t.parent == nil {
		return
	}
	t.parent.remove(t)
	t.parent = nil
}

func (t *Tracker) remove(oldChild *Tracker) {
	t.mu.Lock()
	for i, child := range t.mu.children {
		if child == oldChild {
			t.mu.children = append(t.mu.children[:i], t.mu.children[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	t.Consume(-oldChild.BytesConsumed())
}

// Consume records bytes of usage into the tracker and all its ancestors.
// Negative bytes release usage. After the propagation, the ActionOnExceed of
// the outermost tracker in the chain (the one nearest the root) whose limit
// is exceeded fires.
func (t *Tracker) Consume(bytes int64) {
	if bytes == 0 {
		return
	}
	var rootExceed *Tracker
	for tracker := t; tracker != nil; tracker = tracker.parent {
		consumed := atomic.AddInt64(&tracker.bytesConsumed, bytes)
		limit := atomic.LoadInt64(&tracker.bytesLimit)
		if limit > 0 && consumed >= limit {
			rootExceed = tracker
		}
		for {
			maxNow := atomic.LoadInt64(&tracker.maxConsumed)
			if consumed <= maxNow || atomic.CompareAndSwapInt64(&tracker.maxConsumed, maxNow, consumed) {
				break
			}
		}
	}
	if bytes > 0 && rootExceed != nil {
		rootExceed.actionMu.Lock()
		action := rootExceed.actionMu.actionOnExceed
		rootExceed.actionMu.Unlock()
		if action != nil {
			action.Action(rootExceed)
		}
	}
}

// Release is a shorthand for Consume(-bytes).
func (t *Tracker) Release(bytes int64) {
	t.Consume(-bytes)
}

// BytesConsumed returns the consumed memory usage value in bytes.
func (t *Tracker) BytesConsumed() int64 {
	return atomic.LoadInt64(&t.bytesConsumed)
}

// MaxConsumed returns the max consumed memory usage value in bytes.
func (t *Tracker) MaxConsumed() int64 {
	return atomic.LoadInt64(&t.maxConsumed)
}

// LimitExceeded reports whether the tracker's own limit is currently exceeded.
func (t *Tracker) LimitExceeded() bool {
	limit := atomic.LoadInt64(&t.bytesLimit)
	return limit > 0 && atomic.LoadInt64(&t.bytesConsumed) >= limit
}

// String returns the tree of the tracker in human readable form.
func (t *Tracker) String() string {
	buffer := &strings.Builder{}
	t.toString("", buffer)
	return buffer.String()
}

func (t *Tracker) toString(indent string, buffer *strings.Builder) {
	fmt.Fprintf(buffer, "%s\"%s\"{\n", indent, t.label)
	if limit := atomic.LoadInt64(&t.bytesLimit); limit > 0 {
		fmt.Fprintf(buffer, "%s  \"quota\": %s\n", indent, FormatBytes(limit))
	}
	fmt.Fprintf(buffer, "%s  \"consumed\": %s\n", indent, FormatBytes(t.BytesConsumed()))
	t.mu.Lock()
	for i := range t.mu.children {
		t.mu.children[i].toString(indent+"  ", buffer)
	}
	t.mu.Unlock()
	buffer.WriteString(indent + "}\n")
}

// FormatBytes formats a byte count into a human readable form.
func FormatBytes(numBytes int64) string {
	return units.BytesSize(float64(numBytes))
}
