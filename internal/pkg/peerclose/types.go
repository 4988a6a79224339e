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

// Package peerclose implements the peer close manager: the state machine
// that drives graceful (RFC 4724), long-lived-graceful (RFC 9494), and
// non-graceful termination of one BGP peering session. It marks RIB-In
// paths stale, runs the restart timers, consumes End-of-RIB markers, folds
// in reconnections that arrive mid-close, and finally sweeps or deletes
// whatever the peer did not refresh.
package peerclose

// ClosePhase is the close manager's top-level state.
type ClosePhase int

const (
	// NONE: idle, no close cycle in progress.
	NONE ClosePhase = iota
	// STALE: RIB-In paths are being marked stale (RFC 4724).
	STALE
	// GR_TIMER: the GR restart window is running.
	GR_TIMER
	// LLGR_STALE: RIB-In paths are being re-marked with LLGR stale semantics.
	LLGR_STALE
	// LLGR_TIMER: the LLGR window is running.
	LLGR_TIMER
	// SWEEP: the peer recovered; stale paths that were not refreshed are
	// being deleted.
	SWEEP
	// DELETE: the peer did not recover (or the close is non-graceful); all
	// RIB-In paths are being deleted and the peer is being torn down.
	DELETE
)

func (s ClosePhase) String() string {
	switch s {
	case NONE:
		return "NONE"
	case STALE:
		return "STALE"
	case GR_TIMER:
		return "GR_TIMER"
	case LLGR_STALE:
		return "LLGR_STALE"
	case LLGR_TIMER:
		return "LLGR_TIMER"
	case SWEEP:
		return "SWEEP"
	case DELETE:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// MembershipPhase tracks PCM's relationship with the membership manager for
// this peer.
type MembershipPhase int

const (
	// MembershipNone: disengaged, no request outstanding.
	MembershipNone MembershipPhase = iota
	// MembershipInWait: queued because the manager is not yet usable; the
	// peer is expected to call Request again once it is.
	MembershipInWait
	// MembershipInUse: PCM currently holds the membership manager for this
	// peer; at most one walk may be in flight.
	MembershipInUse
)

func (s MembershipPhase) String() string {
	switch s {
	case MembershipNone:
		return "NONE"
	case MembershipInWait:
		return "IN_WAIT"
	case MembershipInUse:
		return "IN_USE"
	default:
		return "UNKNOWN"
	}
}

// Stats are the monotonic counters exposed through Stats(). They are never
// reset; each field counts lifetime occurrences of the named event.
type Stats struct {
	Init      uint64
	Close     uint64
	Nested    uint64
	Deletes   uint64
	Stale     uint64
	LLGRStale uint64
	Sweep     uint64
	GRTimer   uint64
	LLGRTimer uint64
}

// Snapshot is the close manager's introspection output: current phase plus
// the sticky flags and lifetime counters, taken under the lock. It never
// mutates state.
type Snapshot struct {
	State       string
	CloseAgain  bool
	NonGraceful bool
	Init        uint64
	Close       uint64
	Nested      uint64
	Deletes     uint64
	Stale       uint64
	LLGRStale   uint64
	Sweep       uint64
	GRTimer     uint64
	LLGRTimer   uint64
}
