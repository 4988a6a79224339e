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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nischalsheth/gobgp-peerclose/internal/pkg/bgp"
	"github.com/nischalsheth/gobgp-peerclose/pkg/membership"
)

// Manager is the close manager for a single peer: one instance is created
// when the peer is created and lives exactly as long as it does. It holds a
// non-owning reference back to the peer and to the membership manager; both
// must outlive the Manager.
//
// The close sequence, per phase:
//
//	Graceful close                            state: NONE
//	RIB-In stale marking, RIB-Out unregister  state: STALE
//	GR timer start                            state: GR_TIMER
//
//	Peer IsReady in GR timer callback (or all EoRs received)
//	RIB-In sweep                              state: SWEEP -> NONE
//
//	Peer not IsReady in GR timer callback, LLGR negotiated
//	RIB-In LLGR stale marking                 state: LLGR_STALE
//	LLGR timer start                          state: LLGR_TIMER
//	  then SWEEP -> NONE if the peer returns, DELETE -> NONE if not
//
//	Non-graceful close, or GR not negotiated
//	RIB-In and RIB-Out deletion               state: DELETE -> NONE
//
// A Close arriving during GR_TIMER or LLGR_TIMER aborts the window and
// restarts the whole sequence, folding the window's elapsed time into the
// cycle's budget. A Close arriving during any walk phase is latched and
// serviced once the walk drains.
type Manager struct {
	mu sync.Mutex

	peer   Peer
	mgr    membership.Manager
	logger *slog.Logger

	state           ClosePhase
	membershipPhase MembershipPhase

	closeAgain  bool
	nonGraceful bool
	families    map[bgp.Family]struct{}

	grElapsed   time.Duration
	llgrElapsed time.Duration

	restartTimer restartTimer
	sweepTimer   restartTimer

	stats Stats
}

// NewManager creates a close manager bound to peer, using mgr as its
// membership manager. It registers itself as mgr's walk-completion and
// per-path callback for peer.ID(), so mgr must not already have callbacks
// registered for that peer.
func NewManager(peer Peer, mgr membership.Manager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		peer:     peer,
		mgr:      mgr,
		logger:   logger,
		families: make(map[bgp.Family]struct{}),
	}
	m.stats.Init++
	mgr.RegisterCallbacks(peer.ID(), m.MembershipWalkDone, m.MembershipPathCallback)
	return m
}

// Close triggers closure of the peer. nonGraceful is sticky: once set
// during a close cycle it remains set, even across nested closes, until the
// cycle completes.
func (m *Manager) Close(nonGraceful bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Close++
	m.nonGraceful = m.nonGraceful || nonGraceful
	m.closeInternal()
}

// closeInternal must be called with the lock held.
func (m *Manager) closeInternal() {
	// A close is already latched; the cycle it restarts will honor the
	// sticky nonGraceful flag, so there is nothing left to record.
	if m.closeAgain {
		m.log("nested close calls ignored")
		return
	}

	switch m.state {
	case NONE:
		m.processClosure()

	case GR_TIMER:
		// Abort the running GR window and restart the whole sequence from
		// scratch; the elapsed portion of this window is folded into
		// grElapsed so a peer that keeps flapping cannot indefinitely
		// extend its own restart budget.
		m.log("nested close: restart GR")
		m.closeAgain = true
		m.stats.Nested++
		m.grElapsed += m.restartTimer.elapsed()
		m.closeComplete()

	case LLGR_TIMER:
		m.log("nested close: restart LLGR")
		m.closeAgain = true
		m.stats.Nested++
		m.llgrElapsed += m.restartTimer.elapsed()
		m.closeComplete()

	case STALE, LLGR_STALE, SWEEP, DELETE:
		// A walk or unregister is already in flight for this phase; latch
		// the request and let membershipWalkDoneLocked re-evaluate it once
		// the walk drains.
		m.log("nested close")
		m.closeAgain = true
		m.stats.Nested++

	default:
		panic(fmt.Sprintf("peerclose: close() in unknown state %v", m.state))
	}
}

// EORReceived processes an End-of-RIB marker for family. UNSPEC clears the
// whole pending-families set (used for sessions without per-family EoR).
// Only meaningful while waiting out a restart window with families still
// outstanding; otherwise a no-op, including for duplicate markers for an
// already-removed family.
func (m *Manager) EORReceived(family bgp.Family) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if (m.state != GR_TIMER && m.state != LLGR_TIMER) || len(m.families) == 0 {
		return
	}

	if family == bgp.RF_UNSPEC {
		m.families = make(map[bgp.Family]struct{})
	} else {
		delete(m.families, family)
	}

	// All expected families confirmed: collapse the remaining wait so the
	// next phase is evaluated right away instead of at window expiry.
	if len(m.families) == 0 {
		m.restartTimer.arm(0, m.onRestartTimerFired)
	}
}

// Request retries a membership request that was deferred because the
// membership manager was not yet usable. The peer calls this once the
// manager becomes usable (e.g. once RIB registration finishes); a call
// while no request is parked is a no-op.
func (m *Manager) Request() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.membershipPhase == MembershipInWait {
		m.membershipRequestInternal()
	}
}

// onRestartTimerFired is the restartTimer's fire callback; it always runs on
// its own goroutine (time.AfterFunc), so re-acquiring the lock here is safe.
// A callback that lost the race against a state change that already moved
// past the waiting phases is stale and ignored.
func (m *Manager) onRestartTimerFired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == GR_TIMER || m.state == LLGR_TIMER {
		m.processClosure()
	}
}

// onSweepTimerFired is the sweep timer's fire callback. The detour through a
// zero-delay timer exists purely to hop off the membership completion
// context before running the peer-visible sweep notification.
func (m *Manager) onSweepTimerFired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != SWEEP {
		return
	}
	m.peer.GracefulRestartSweep()
	m.closeComplete()
}

// processClosure decides the next phase from the current one, then kicks off
// the membership request the new phase needs. Must be called with the lock
// held, and only from NONE or one of the timer phases.
func (m *Manager) processClosure() {
	switch m.state {
	case NONE:
		if m.nonGraceful || !m.peer.IsCloseGraceful() {
			m.moveTo(DELETE)
			m.stats.Deletes++
		} else {
			m.moveTo(STALE)
			m.stats.Stale++
			m.peer.GracefulRestartStale()
		}

	case GR_TIMER:
		switch {
		case m.peer.IsReady():
			// Peer came back inside the window; the consumed budget is
			// forgiven.
			m.moveTo(SWEEP)
			m.grElapsed = 0
			m.llgrElapsed = 0
			m.stats.Sweep++
		case m.peer.IsCloseLLGR():
			m.moveTo(LLGR_STALE)
			m.stats.LLGRStale++
		default:
			m.moveTo(DELETE)
			m.stats.Deletes++
		}

	case LLGR_TIMER:
		if m.peer.IsReady() {
			m.moveTo(SWEEP)
			m.grElapsed = 0
			m.llgrElapsed = 0
			m.stats.Sweep++
		} else {
			m.moveTo(DELETE)
			m.stats.Deletes++
		}

	case STALE, LLGR_STALE, SWEEP, DELETE:
		panic(fmt.Sprintf("peerclose: process_closure entered from illegal state %v", m.state))

	default:
		panic(fmt.Sprintf("peerclose: process_closure entered from unknown state %v", m.state))
	}

	if m.state == DELETE {
		m.peer.CustomClose()
	}
	m.membershipRequestInternal()
}

// membershipRequestInternal asks the membership manager to act on the
// peer's registered tables for the current phase: a RIB-In walk for
// STALE/LLGR_STALE/SWEEP, unregistration for DELETE. Enforces the
// single-flight rule - at most one request outstanding per peer - and
// defers entirely if the membership manager cannot be used yet. Must be
// called with the lock held.
func (m *Manager) membershipRequestInternal() {
	if m.membershipPhase == MembershipInUse {
		panic("peerclose: membership request while a previous one is in flight")
	}

	// Pause until the membership manager is ready for use; the peer
	// retriggers via Request once it is.
	if !m.peer.CanUseMembershipManager() {
		m.membershipPhase = MembershipInWait
		return
	}
	m.membershipPhase = MembershipInUse

	tables := m.mgr.GetRegisteredRibs(m.peer.ID())
	if len(tables) == 0 {
		// Nothing registered to walk or unregister: there is no async
		// operation to wait on, so the completion is synthesized inline
		// rather than round-tripped through the membership manager. This is
		// the one place PCM re-enters its own handling while still holding
		// its lock.
		m.membershipWalkDoneLocked()
		return
	}

	for _, t := range tables {
		if m.mgr.IsRegistered(m.peer.ID(), t) {
			if m.state == DELETE {
				m.mgr.Unregister(m.peer.ID(), t)
			} else {
				// Keep RIB-In registered so staling and sweeping can still
				// reach the learned paths; only the outbound leg goes away.
				m.mgr.UnregisterRibOut(m.peer.ID(), t)
			}
		} else {
			if !m.mgr.IsRibInRegistered(m.peer.ID(), t) {
				panic(fmt.Sprintf("peerclose: table %q registered in no direction", t.Name))
			}
			if m.state == DELETE {
				m.mgr.UnregisterRibIn(m.peer.ID(), t)
			} else {
				m.mgr.WalkRibIn(m.peer.ID(), t)
			}
		}
	}
}

// MembershipWalkDone is the completion callback the membership manager
// invokes once every table operation membershipRequestInternal issued for
// this peer has drained. It reports false when the manager still has pending
// work for the peer, in which case it will be invoked again. It always runs
// on a goroutine distinct from whichever one called into the membership
// manager, so re-acquiring the lock here is safe.
func (m *Manager) MembershipWalkDone() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.membershipWalkDoneLocked()
}

// membershipWalkDoneLocked reacts to the just-finished walk/unregister for
// the phase that requested it. Must be called with the lock held.
func (m *Manager) membershipWalkDoneLocked() bool {
	if m.state != STALE && m.state != LLGR_STALE && m.state != SWEEP && m.state != DELETE {
		panic(fmt.Sprintf("peerclose: membership walk done in unexpected state %v", m.state))
	}
	if m.membershipPhase != MembershipInUse {
		panic("peerclose: membership walk done without a request in flight")
	}

	if m.mgr.IsPending(m.peer.ID()) {
		return false
	}

	m.membershipPhase = MembershipNone
	m.log("rib walk completed")

	if m.state == DELETE {
		m.moveTo(NONE)
		m.peer.Delete()
		m.grElapsed = 0
		m.llgrElapsed = 0
		m.families = make(map[bgp.Family]struct{})
		m.stats.Init++
		m.closeAgain = false
		m.nonGraceful = false
		return true
	}

	// A close latched while the walk was in flight restarts the whole
	// sequence; the phase the walk served never advances.
	if m.closeAgain {
		m.closeComplete()
		return true
	}

	if m.state == STALE {
		m.peer.CloseComplete()
		m.moveTo(GR_TIMER)
		m.families = familySet(m.peer.GetGracefulRestartFamilies())

		// Offset the window with time consumed by earlier, aborted windows
		// in this same close cycle.
		m.restartTimer.arm(restartDuration(m.peer.GetGracefulRestartTime(), m.grElapsed), m.onRestartTimerFired)
		m.stats.GRTimer++
		return true
	}

	// Typically a very long timer; EoRs are expected to collapse it well
	// before expiry.
	if m.state == LLGR_STALE {
		m.moveTo(LLGR_TIMER)
		m.families = familySet(m.peer.GetGracefulRestartFamilies())
		m.restartTimer.arm(restartDuration(m.peer.GetLLGRTime(), m.llgrElapsed), m.onRestartTimerFired)
		m.stats.LLGRTimer++
		return true
	}

	// SWEEP: the peer-visible sweep must run outside the membership
	// completion context, so it is deferred through the zero-delay timer.
	m.sweepTimer.arm(0, m.onSweepTimerFired)
	return true
}

// closeComplete moves back to NONE, releases both timers, and - if a close
// was latched during the cycle - immediately starts a fresh one. The sticky
// nonGraceful flag and the elapsed accounting survive into that fresh
// cycle. Must be called with the lock held.
func (m *Manager) closeComplete() {
	m.moveTo(NONE)
	m.restartTimer.cancel()
	m.sweepTimer.cancel()
	m.families = make(map[bgp.Family]struct{})
	m.stats.Init++

	// Nested closures trigger fresh GR.
	if m.closeAgain {
		m.closeAgain = false
		m.closeInternal()
	}
}

// moveTo transitions to next, refusing a transition into the current state
// (an invariant violation: every caller above verified the state was going
// to change). Must be called with the lock held.
func (m *Manager) moveTo(next ClosePhase) {
	if next == m.state {
		panic(fmt.Sprintf("peerclose: illegal transition into current state %v", next))
	}
	m.state = next
	m.log("move to state " + next.String())
}

func (m *Manager) log(msg string) {
	m.logger.Debug(msg,
		slog.String("Peer", m.peer.ID()),
		slog.String("State", m.state.String()),
		slog.Bool("CloseAgain", m.closeAgain))
}

// Stats returns a point-in-time snapshot of PCM's observable state. Purely
// observational; never mutates.
func (m *Manager) Stats() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:       m.state.String(),
		CloseAgain:  m.closeAgain,
		NonGraceful: m.nonGraceful,
		Init:        m.stats.Init,
		Close:       m.stats.Close,
		Nested:      m.stats.Nested,
		Deletes:     m.stats.Deletes,
		Stale:       m.stats.Stale,
		LLGRStale:   m.stats.LLGRStale,
		Sweep:       m.stats.Sweep,
		GRTimer:     m.stats.GRTimer,
		LLGRTimer:   m.stats.LLGRTimer,
	}
}

func familySet(fs []bgp.Family) map[bgp.Family]struct{} {
	out := make(map[bgp.Family]struct{}, len(fs))
	for _, f := range fs {
		out[f] = struct{}{}
	}
	return out
}

// restartDuration returns how long a restart timer should still run given
// its configured total and the portion already consumed by earlier, aborted
// windows in this same close cycle. Never negative: a zero duration produces
// an immediate next-phase evaluation.
func restartDuration(total, elapsed time.Duration) time.Duration {
	d := total - elapsed
	if d < 0 {
		return 0
	}
	return d
}
