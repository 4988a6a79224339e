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

// Package membership defines the contract the peer close manager uses to
// unregister and walk a peer's RIB-In/RIB-Out tables, plus a reference
// in-memory implementation of it.
//
// A real deployment's membership manager also drives route distribution and
// policy re-evaluation; PCM only ever needs the handful of calls declared
// here (internal/pkg/peerclose is the only intended caller).
package membership

import (
	"log/slog"
	"sync"

	"github.com/nischalsheth/gobgp-peerclose/internal/pkg/bgp"
	"github.com/nischalsheth/gobgp-peerclose/internal/pkg/rib"
)

// Table identifies one registered RIB a peer participates in. A peer is
// normally registered per configured address family; VRF-scoped peers may
// carry additional tables, which is why this is a value type distinct from
// bgp.Family.
type Table struct {
	Family bgp.Family
	Name   string
}

// Manager is the membership-manager contract the peer close manager
// consumes. Unregister/UnregisterRibOut/UnregisterRibIn/WalkRibIn schedule
// work on the manager's own context and let it drain asynchronously,
// signaled through IsPending and the registered completion callback; the
// per-path visitor applied by walks is the one registered up front through
// RegisterCallbacks.
type Manager interface {
	GetRegisteredRibs(peer string) []Table
	IsRegistered(peer string, table Table) bool
	IsRibInRegistered(peer string, table Table) bool
	// Unregister drops both RIB-In and RIB-Out membership; the RIB-In paths
	// are fed through the peer's path visitor first.
	Unregister(peer string, table Table)
	// UnregisterRibOut drops the outbound leg only, then walks the RIB-In
	// with the peer's path visitor. RIB-In membership survives so later
	// phases can still reach the learned paths.
	UnregisterRibOut(peer string, table Table)
	UnregisterRibIn(peer string, table Table)
	WalkRibIn(peer string, table Table)
	// IsPending reports whether the manager still holds unprocessed
	// operations for peer.
	IsPending(peer string) bool
	// RegisterCallbacks binds peer's two callbacks: walkDone is invoked once
	// every operation requested for the peer has drained (it returns false
	// if the recipient observed more work still pending, in which case it
	// is invoked again at the next drain), and visit is the per-path
	// decision function every RIB-In walk applies. walkDone always runs on
	// the manager's own context, never on the goroutine that requested the
	// operations.
	RegisterCallbacks(peer string, walkDone func() bool, visit rib.PathVisitor)
}

// registration tracks, for one peer, whether it is fully registered
// (RIB-In and RIB-Out) or RIB-In only, plus the operation queue its
// worker drains in FIFO order.
type registration struct {
	tables map[Table]bool // table -> fully registered (false == RIB-In only)
	ribIns map[bgp.Family]*rib.AdjRibIn

	queue    []func()
	running  bool
	active   bool
	walkDone func() bool
	visit    rib.PathVisitor
}

// InMemoryManager is a reference Manager backed by per-peer AdjRibIn tables.
// Operations for one peer run strictly in request order on a single worker
// goroutine standing in for the membership task context, and the completion
// callback fires whenever that worker finds its queue empty; the walkDone
// contract's pending re-check absorbs the case where the requester is still
// mid-burst.
type InMemoryManager struct {
	mu     sync.Mutex
	logger *slog.Logger
	peers  map[string]*registration
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryManager{
		logger: logger,
		peers:  make(map[string]*registration),
	}
}

// Register makes a peer a full (RIB-In + RIB-Out) member of table, and
// returns the AdjRibIn the test or harness should populate with paths.
func (m *InMemoryManager) Register(peer string, table Table) *rib.AdjRibIn {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.registrationLocked(peer)
	r.tables[table] = true
	if _, ok := r.ribIns[table.Family]; !ok {
		r.ribIns[table.Family] = rib.NewAdjRibIn()
	}
	return r.ribIns[table.Family]
}

// RegisterRibInOnly is the RIB-In-only counterpart of Register, used for
// peers whose outbound leg was already unregistered in an earlier phase.
func (m *InMemoryManager) RegisterRibInOnly(peer string, table Table) *rib.AdjRibIn {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.registrationLocked(peer)
	r.tables[table] = false
	if _, ok := r.ribIns[table.Family]; !ok {
		r.ribIns[table.Family] = rib.NewAdjRibIn()
	}
	return r.ribIns[table.Family]
}

func (m *InMemoryManager) registrationLocked(peer string) *registration {
	r, ok := m.peers[peer]
	if !ok {
		r = &registration{
			tables: make(map[Table]bool),
			ribIns: make(map[bgp.Family]*rib.AdjRibIn),
		}
		m.peers[peer] = r
	}
	return r
}

func (m *InMemoryManager) RegisterCallbacks(peer string, walkDone func() bool, visit rib.PathVisitor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.registrationLocked(peer)
	r.walkDone = walkDone
	r.visit = visit
}

func (m *InMemoryManager) GetRegisteredRibs(peer string) []Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.peers[peer]
	if !ok {
		return nil
	}
	out := make([]Table, 0, len(r.tables))
	for t := range r.tables {
		out = append(out, t)
	}
	return out
}

func (m *InMemoryManager) IsRegistered(peer string, table Table) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.peers[peer]
	if !ok {
		return false
	}
	full, ok := r.tables[table]
	return ok && full
}

func (m *InMemoryManager) IsRibInRegistered(peer string, table Table) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.peers[peer]
	if !ok {
		return false
	}
	full, ok := r.tables[table]
	return ok && !full
}

func (m *InMemoryManager) Unregister(peer string, table Table) {
	m.schedule(peer, func() {
		m.walkTable(peer, table)
		m.mu.Lock()
		if r, ok := m.peers[peer]; ok {
			delete(r.tables, table)
			delete(r.ribIns, table.Family)
		}
		m.mu.Unlock()
	})
}

func (m *InMemoryManager) UnregisterRibOut(peer string, table Table) {
	m.schedule(peer, func() {
		m.walkTable(peer, table)
		m.mu.Lock()
		if r, ok := m.peers[peer]; ok {
			if _, registered := r.tables[table]; registered {
				r.tables[table] = false
			}
		}
		m.mu.Unlock()
	})
}

func (m *InMemoryManager) UnregisterRibIn(peer string, table Table) {
	m.schedule(peer, func() {
		m.walkTable(peer, table)
		m.mu.Lock()
		if r, ok := m.peers[peer]; ok {
			delete(r.tables, table)
			delete(r.ribIns, table.Family)
		}
		m.mu.Unlock()
	})
}

func (m *InMemoryManager) WalkRibIn(peer string, table Table) {
	m.schedule(peer, func() {
		m.walkTable(peer, table)
	})
}

// walkTable applies the peer's registered path visitor to every RIB-In path
// of table. Runs on the worker goroutine, with no locks held across the
// visitor calls.
func (m *InMemoryManager) walkTable(peer string, table Table) {
	m.mu.Lock()
	r, ok := m.peers[peer]
	var ribIn *rib.AdjRibIn
	var visit rib.PathVisitor
	if ok {
		ribIn = r.ribIns[table.Family]
		visit = r.visit
	}
	m.mu.Unlock()
	if ribIn == nil || visit == nil {
		return
	}
	modified := ribIn.Walk([]bgp.Family{table.Family}, visit)
	m.logger.Debug("rib-in walk done",
		slog.String("Peer", peer),
		slog.String("Family", table.Family.String()),
		slog.Int("Modified", modified))
}

func (m *InMemoryManager) IsPending(peer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.peers[peer]
	return ok && (len(r.queue) > 0 || r.active)
}

// schedule appends fn to the peer's FIFO queue and starts the worker if it
// is not already draining. The worker is what lets the completion callback
// safely re-acquire the close manager's lock: the caller of schedule is
// typically still holding it.
func (m *InMemoryManager) schedule(peer string, fn func()) {
	m.mu.Lock()
	r := m.registrationLocked(peer)
	r.queue = append(r.queue, fn)
	if !r.running {
		r.running = true
		go m.run(r)
	}
	m.mu.Unlock()
}

// run drains one peer's queue in order. After each operation, if the queue
// is empty, the completion callback fires; a callback that observes the
// requester still mid-burst returns false and is simply invoked again after
// the remaining operations drain.
func (m *InMemoryManager) run(r *registration) {
	for {
		m.mu.Lock()
		if len(r.queue) == 0 {
			r.running = false
			m.mu.Unlock()
			return
		}
		fn := r.queue[0]
		r.queue = r.queue[1:]
		r.active = true
		m.mu.Unlock()

		fn()

		m.mu.Lock()
		r.active = false
		drained := len(r.queue) == 0
		done := r.walkDone
		m.mu.Unlock()

		if drained && done != nil {
			done()
		}
	}
}
