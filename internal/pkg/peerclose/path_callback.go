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
	"github.com/nischalsheth/gobgp-peerclose/internal/pkg/bgp"
	"github.com/nischalsheth/gobgp-peerclose/internal/pkg/rib"
)

// MembershipPathCallback is the per-path decision function a RIB-In walk
// invokes once per stored path. It runs on the membership manager's walk
// context and takes the PCM lock per path, so the phase it dispatches on is
// the live one: a walk still delivering paths after the state machine moved
// into a waiting phase sees that phase and leaves the paths alone.
//
// PathID, flags outside the stale bits, and the label all survive every
// decision made here; only the stale bits and (for LLGR) the communities
// change.
func (m *Manager) MembershipPathCallback(p *rib.Path) rib.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case NONE, GR_TIMER, LLGR_TIMER:
		return rib.Decision{Op: rib.OpNone}

	case STALE:
		// Already marked: the session flipped while in GR_TIMER and this
		// path was staled by the previous cycle's walk.
		if p.IsStale() {
			return rib.Decision{Op: rib.OpNone}
		}
		return rib.Decision{Op: rib.OpAddChange, Path: markStale(p)}

	case LLGR_STALE:
		// Paths carrying NO_LLGR must not be retained under LLGR.
		if p.HasNoLLGR() {
			return rib.Decision{Op: rib.OpDelete}
		}
		if p.IsLLGRStale() {
			return rib.Decision{Op: rib.OpNone}
		}
		return rib.Decision{Op: rib.OpAddChange, Path: markLLGRStale(p)}

	case SWEEP:
		// Refreshed by the new session; leave it alone.
		if !p.IsStale() && !p.IsLLGRStale() {
			return rib.Decision{Op: rib.OpNone}
		}
		return rib.Decision{Op: rib.OpDelete}

	case DELETE:
		return rib.Decision{Op: rib.OpDelete}

	default:
		return rib.Decision{Op: rib.OpNone}
	}
}

func markStale(p *rib.Path) *rib.Path {
	n := *p
	n.Flags |= rib.FlagStale
	return &n
}

func markLLGRStale(p *rib.Path) *rib.Path {
	n := *p
	n.Flags = (n.Flags &^ rib.FlagStale) | rib.FlagLLGRStale
	n.Communities = append(append([]uint32{}, p.Communities...), uint32(bgp.COMMUNITY_LLGR_STALE))
	return &n
}
