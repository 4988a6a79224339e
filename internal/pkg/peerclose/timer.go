// Copyright (C) 2014-2021 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package peerclose

import (
	"sync"
	"time"
)

// restartTimer is a one-shot, cancellable timer keyed to the close manager's
// lifetime, modeled on the gracefulRestartTimer field in gobgp's fsm.go
// (a *time.Timer armed with Reset/Stop) but adding the elapsed-time
// accounting the close manager needs for nested closes.
//
// cancel is safe to call from any goroutine. The fire wrapper re-checks a
// generation counter under the timer's own mutex, so a period cancelled
// before its wrapper reaches that check never calls fire. A wrapper that
// already passed the check still calls fire after cancel returns; the close
// manager's fire callbacks therefore re-check the phase under the manager's
// lock and do nothing outside a phase that expects them.
type restartTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	startAt time.Time
	armed   bool
	gen     uint64
}

// arm cancels any previous timer and starts a new one that calls fire after
// d. A d of 0 fires on the next scheduler tick, used for the zero-delay
// continuations: immediate re-evaluation after EoR empties the family set,
// and the sweep-timer hop off the membership context.
func (t *restartTimer) arm(d time.Duration, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.gen++
	gen := t.gen
	t.startAt = time.Now()
	t.armed = true
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		stillArmed := t.armed && t.gen == gen
		t.mu.Unlock()
		if stillArmed {
			fire()
		}
	})
}

// cancel stops the timer if armed. Safe to call when not armed.
func (t *restartTimer) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

func (t *restartTimer) cancelLocked() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.armed = false
	t.gen++
}

// elapsed returns how long the timer has been running since it was last
// armed. Used to carry GR/LLGR elapsed time across a nested close so a
// reconnecting peer cannot indefinitely extend its own restart window.
func (t *restartTimer) elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return 0
	}
	return time.Since(t.startAt)
}

func (t *restartTimer) isArmed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}
