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

// Package rib holds the per-peer adjacency-RIB-In that the peer close
// manager walks and mutates. It is intentionally much smaller than a real
// BGP table implementation: no best-path selection, no path attributes
// beyond communities, no NLRI codec. It exists to give the close manager's
// path callback something real to operate on.
package rib

import (
	"slices"

	"github.com/nischalsheth/gobgp-peerclose/internal/pkg/bgp"
)

// Flags mirrors the subset of table.Path's per-path flags the close manager
// cares about.
type Flags uint8

const (
	FlagStale Flags = 1 << iota
	FlagLLGRStale
)

// Path is one route learned from a peer. Origin, PathID, and Label survive
// untouched across every close-manager mutation; only Flags and Communities
// change.
type Path struct {
	Family      bgp.Family
	Prefix      string
	PathID      uint32
	Label       uint32
	Origin      string
	Flags       Flags
	Communities []uint32
	Withdrawn   bool
}

func (p *Path) IsStale() bool {
	return p.Flags&FlagStale != 0
}

func (p *Path) IsLLGRStale() bool {
	return p.Flags&FlagLLGRStale != 0
}

func (p *Path) HasNoLLGR() bool {
	return slices.Contains(p.Communities, uint32(bgp.COMMUNITY_NO_LLGR))
}

// clone returns a shallow copy with a fresh communities slice so callers
// can mutate the result without disturbing the stored path.
func (p *Path) clone() *Path {
	n := *p
	n.Communities = slices.Clone(p.Communities)
	return &n
}

// Operation is the RIB mutation a path callback asks the caller to apply.
type Operation int

const (
	OpNone Operation = iota
	OpAddChange
	OpDelete
)

// Decision is the result of evaluating one path against the current close
// phase: the operation to apply and (for OpAddChange) the mutated path to
// store back.
type Decision struct {
	Op   Operation
	Path *Path
}
