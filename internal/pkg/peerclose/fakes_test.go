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

	"github.com/nischalsheth/gobgp-peerclose/internal/pkg/bgp"
	"github.com/nischalsheth/gobgp-peerclose/internal/pkg/rib"
	"github.com/nischalsheth/gobgp-peerclose/pkg/membership"
)

// fakePeer is a minimal, fully controllable Peer for exercising the state
// machine without a real BGP session behind it.
type fakePeer struct {
	mu sync.Mutex

	id string

	closeGraceful bool
	closeLLGR     bool
	ready         bool
	canUseMM      bool

	grTime   time.Duration
	llgrTime time.Duration
	families []bgp.Family

	staleCalls, sweepCalls, customCloseCalls, closeCompleteCalls, deleteCalls int
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{
		id:            id,
		closeGraceful: true,
		canUseMM:      true,
		grTime:        20 * time.Millisecond,
		llgrTime:      20 * time.Millisecond,
		families:      []bgp.Family{bgp.RF_IPv4_UC},
	}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) IsCloseGraceful() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeGraceful
}

func (p *fakePeer) IsCloseLLGR() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLLGR
}

func (p *fakePeer) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *fakePeer) setReady(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = v
}

func (p *fakePeer) GracefulRestartStale() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staleCalls++
}

func (p *fakePeer) GetGracefulRestartFamilies() []bgp.Family {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.families
}

func (p *fakePeer) GetGracefulRestartTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.grTime
}

func (p *fakePeer) GetLLGRTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.llgrTime
}

func (p *fakePeer) GracefulRestartSweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepCalls++
}

func (p *fakePeer) CustomClose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customCloseCalls++
}

func (p *fakePeer) CloseComplete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCompleteCalls++
}

func (p *fakePeer) Delete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleteCalls++
}

func (p *fakePeer) CanUseMembershipManager() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canUseMM
}

func (p *fakePeer) setCanUseMM(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canUseMM = v
}

type peerCounts struct {
	stale, sweep, customClose, closeComplete, del int
}

func (p *fakePeer) counts() peerCounts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return peerCounts{p.staleCalls, p.sweepCalls, p.customCloseCalls, p.closeCompleteCalls, p.deleteCalls}
}

// fakeMembership is a membership.Manager whose table walks/unregisters
// complete only when the test calls drain, giving full control over the
// interleaving between a RIB-In walk and a nested Close call arriving while
// it is in flight. fullReg selects which of the two registration branches
// every table reports; the default is RIB-In only.
type fakeMembership struct {
	mu       sync.Mutex
	tables   map[string][]membership.Table
	walkDone map[string]func() bool
	visit    map[string]rib.PathVisitor
	fullReg  bool
	pending  bool

	walks, unregs, ribOutUnregs, ribInUnregs int
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{
		tables:   make(map[string][]membership.Table),
		walkDone: make(map[string]func() bool),
		visit:    make(map[string]rib.PathVisitor),
	}
}

func (f *fakeMembership) setTables(peer string, tables ...membership.Table) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[peer] = tables
}

func (f *fakeMembership) setPending(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = v
}

func (f *fakeMembership) GetRegisteredRibs(peer string) []membership.Table {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tables[peer]
}

func (f *fakeMembership) IsRegistered(peer string, table membership.Table) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fullReg
}

func (f *fakeMembership) IsRibInRegistered(peer string, table membership.Table) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.fullReg
}

func (f *fakeMembership) Unregister(peer string, table membership.Table) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregs++
}

func (f *fakeMembership) UnregisterRibOut(peer string, table membership.Table) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ribOutUnregs++
}

func (f *fakeMembership) UnregisterRibIn(peer string, table membership.Table) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ribInUnregs++
}

func (f *fakeMembership) WalkRibIn(peer string, table membership.Table) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.walks++
}

func (f *fakeMembership) IsPending(peer string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *fakeMembership) RegisterCallbacks(peer string, walkDone func() bool, visit rib.PathVisitor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.walkDone[peer] = walkDone
	f.visit[peer] = visit
}

// ops returns the total number of table operations requested so far.
func (f *fakeMembership) ops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.walks + f.unregs + f.ribOutUnregs + f.ribInUnregs
}

// drain invokes the registered completion callback for peer synchronously,
// simulating the membership manager finishing every operation it was asked
// to perform for the close phase currently in flight.
func (f *fakeMembership) drain(peer string) bool {
	f.mu.Lock()
	cb := f.walkDone[peer]
	f.mu.Unlock()
	if cb == nil {
		return false
	}
	return cb()
}
