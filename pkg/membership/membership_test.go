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

package membership

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nischalsheth/gobgp-peerclose/internal/pkg/bgp"
	"github.com/nischalsheth/gobgp-peerclose/internal/pkg/rib"
)

func staleMarker(p *rib.Path) rib.Decision {
	n := *p
	n.Flags |= rib.FlagStale
	return rib.Decision{Op: rib.OpAddChange, Path: &n}
}

func TestRegisterAndGetRegisteredRibs(t *testing.T) {
	m := NewInMemoryManager(nil)
	table := Table{Family: bgp.RF_IPv4_UC, Name: "inet.0"}

	ribIn := m.Register("peer1", table)
	require.NotNil(t, ribIn)

	assert.True(t, m.IsRegistered("peer1", table))
	assert.False(t, m.IsRibInRegistered("peer1", table))
	assert.ElementsMatch(t, []Table{table}, m.GetRegisteredRibs("peer1"))
}

func TestRegisterRibInOnly(t *testing.T) {
	m := NewInMemoryManager(nil)
	table := Table{Family: bgp.RF_IPv4_UC, Name: "inet.0"}

	m.RegisterRibInOnly("peer1", table)

	assert.False(t, m.IsRegistered("peer1", table))
	assert.True(t, m.IsRibInRegistered("peer1", table))
}

func TestWalkRibInDrainsAndSignalsCompletion(t *testing.T) {
	m := NewInMemoryManager(nil)
	table := Table{Family: bgp.RF_IPv4_UC, Name: "inet.0"}
	ribIn := m.Register("peer1", table)
	ribIn.Update(&rib.Path{Family: bgp.RF_IPv4_UC, Prefix: "10.0.0.0/24"})

	var done atomic.Bool
	m.RegisterCallbacks("peer1", func() bool { done.Store(true); return true }, staleMarker)

	m.WalkRibIn("peer1", table)

	require.Eventually(t, func() bool { return done.Load() }, time.Second, time.Millisecond)
	assert.False(t, m.IsPending("peer1"))

	paths := ribIn.PathList([]bgp.Family{bgp.RF_IPv4_UC})
	require.Len(t, paths, 1)
	assert.True(t, paths[0].IsStale())
}

func TestUnregisterRibOutDemotesAndWalks(t *testing.T) {
	m := NewInMemoryManager(nil)
	table := Table{Family: bgp.RF_IPv4_UC, Name: "inet.0"}
	ribIn := m.Register("peer1", table)
	ribIn.Update(&rib.Path{Family: bgp.RF_IPv4_UC, Prefix: "10.0.0.0/24"})

	var done atomic.Bool
	m.RegisterCallbacks("peer1", func() bool { done.Store(true); return true }, staleMarker)

	m.UnregisterRibOut("peer1", table)

	require.Eventually(t, func() bool { return done.Load() }, time.Second, time.Millisecond)
	assert.False(t, m.IsRegistered("peer1", table))
	assert.True(t, m.IsRibInRegistered("peer1", table))

	// The outbound unregistration also drove the RIB-In walk.
	paths := ribIn.PathList([]bgp.Family{bgp.RF_IPv4_UC})
	require.Len(t, paths, 1)
	assert.True(t, paths[0].IsStale())
}

func TestUnregisterDeletesPathsAndRemovesTable(t *testing.T) {
	m := NewInMemoryManager(nil)
	table := Table{Family: bgp.RF_IPv4_UC, Name: "inet.0"}
	ribIn := m.Register("peer1", table)
	ribIn.Update(&rib.Path{Family: bgp.RF_IPv4_UC, Prefix: "10.0.0.0/24"})

	var done atomic.Bool
	var deleted atomic.Int32
	m.RegisterCallbacks("peer1",
		func() bool { done.Store(true); return true },
		func(p *rib.Path) rib.Decision {
			deleted.Add(1)
			return rib.Decision{Op: rib.OpDelete}
		})

	m.Unregister("peer1", table)

	require.Eventually(t, func() bool { return done.Load() }, time.Second, time.Millisecond)
	assert.False(t, m.IsRegistered("peer1", table))
	assert.Empty(t, m.GetRegisteredRibs("peer1"))
	assert.Equal(t, int32(1), deleted.Load())
}

func TestIsPendingWhileOperationInFlight(t *testing.T) {
	m := NewInMemoryManager(nil)
	table := Table{Family: bgp.RF_IPv4_UC, Name: "inet.0"}
	ribIn := m.Register("peer1", table)
	ribIn.Update(&rib.Path{Family: bgp.RF_IPv4_UC, Prefix: "10.0.0.0/24"})

	release := make(chan struct{})
	var started atomic.Bool
	m.RegisterCallbacks("peer1", func() bool { return true }, func(p *rib.Path) rib.Decision {
		started.Store(true)
		<-release
		return rib.Decision{Op: rib.OpNone}
	})
	m.WalkRibIn("peer1", table)

	require.Eventually(t, func() bool { return started.Load() }, time.Second, time.Millisecond)
	assert.True(t, m.IsPending("peer1"))

	close(release)
	require.Eventually(t, func() bool { return !m.IsPending("peer1") }, time.Second, time.Millisecond)
}

// Operations for one peer run strictly in request order, and the completion
// callback's not-done answer simply defers to the next drain.
func TestOperationsRunInOrderAndCompletionRetries(t *testing.T) {
	m := NewInMemoryManager(nil)
	t4 := Table{Family: bgp.RF_IPv4_UC, Name: "inet.0"}
	t6 := Table{Family: bgp.RF_IPv6_UC, Name: "inet6.0"}
	rib4 := m.Register("peer1", t4)
	rib6 := m.Register("peer1", t6)
	rib4.Update(&rib.Path{Family: bgp.RF_IPv4_UC, Prefix: "10.0.0.0/24"})
	rib6.Update(&rib.Path{Family: bgp.RF_IPv6_UC, Prefix: "2001:db8::/32"})

	var mu sync.Mutex
	var order []bgp.Family
	var calls atomic.Int32
	m.RegisterCallbacks("peer1",
		func() bool {
			// First drain observation answers not-done; the worker calls
			// again after the remaining operations finish.
			return calls.Add(1) > 1
		},
		func(p *rib.Path) rib.Decision {
			mu.Lock()
			order = append(order, p.Family)
			mu.Unlock()
			return rib.Decision{Op: rib.OpNone}
		})

	m.WalkRibIn("peer1", t4)
	m.WalkRibIn("peer1", t6)

	require.Eventually(t, func() bool { return !m.IsPending("peer1") && calls.Load() >= 1 }, time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bgp.Family{bgp.RF_IPv4_UC, bgp.RF_IPv6_UC}, order)
}
