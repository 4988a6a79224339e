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
	"time"

	"github.com/nischalsheth/gobgp-peerclose/internal/pkg/bgp"
)

// Peer is the contract the owning peer object supplies to its close
// manager. It is the only way PCM ever reaches back into the peer/session
// layer; PCM never touches the BGP FSM, RIB storage, or wire codec
// directly.
type Peer interface {
	// ID identifies the peer in membership-manager calls and log lines.
	ID() string

	IsCloseGraceful() bool
	IsCloseLLGR() bool
	// IsReady reports whether the BGP session is Established.
	IsReady() bool

	// GracefulRestartStale notifies the peer that the STALE phase started.
	GracefulRestartStale()
	// GetGracefulRestartFamilies returns the families GR applies to.
	GetGracefulRestartFamilies() []bgp.Family
	GetGracefulRestartTime() time.Duration
	GetLLGRTime() time.Duration
	// GracefulRestartSweep notifies the peer that SWEEP is happening.
	GracefulRestartSweep()

	// CustomClose runs peer-specific cleanup at DELETE entry.
	CustomClose()
	// CloseComplete is called once the STALE phase's walk has finished,
	// just before the GR timer starts.
	CloseComplete()
	// Delete is the final teardown at the end of the DELETE phase.
	Delete()

	CanUseMembershipManager() bool
}
