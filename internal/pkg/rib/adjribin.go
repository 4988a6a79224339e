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

package rib

import "github.com/nischalsheth/gobgp-peerclose/internal/pkg/bgp"

// AdjRibIn holds, per address family, the paths learned from one peer. A
// RIB-In walk (driven externally by the membership manager) visits every
// path and feeds it to a PathVisitor; the visitor decides whether to keep,
// mutate, or delete it.
type AdjRibIn struct {
	tables map[bgp.Family]map[string]*Path
}

func NewAdjRibIn() *AdjRibIn {
	return &AdjRibIn{tables: make(map[bgp.Family]map[string]*Path)}
}

// Update installs or removes a path by prefix, mirroring an ordinary BGP
// UPDATE/WITHDRAW applied to the adj-RIB-In.
func (a *AdjRibIn) Update(p *Path) {
	t, ok := a.tables[p.Family]
	if !ok {
		t = make(map[string]*Path)
		a.tables[p.Family] = t
	}
	if p.Withdrawn {
		delete(t, p.Prefix)
		return
	}
	t[p.Prefix] = p
}

// PathVisitor is the per-path decision function a RIB-In walk invokes once
// per stored path. It returns the Decision to apply; OpNone leaves the path
// untouched.
type PathVisitor func(*Path) Decision

// Walk visits every path of every family in rfList and applies the visitor's
// decision. It returns the number of paths the visitor actually modified
// (OpAddChange or OpDelete), matching the boolean-per-path "was this path
// modified" contract of the original per-path callback.
func (a *AdjRibIn) Walk(rfList []bgp.Family, visit PathVisitor) int {
	modified := 0
	for _, f := range rfList {
		t, ok := a.tables[f]
		if !ok {
			continue
		}
		for prefix, p := range t {
			d := visit(p)
			switch d.Op {
			case OpNone:
			case OpAddChange:
				t[prefix] = d.Path
				modified++
			case OpDelete:
				delete(t, prefix)
				modified++
			}
		}
	}
	return modified
}

// Count returns the number of stored paths across rfList.
func (a *AdjRibIn) Count(rfList []bgp.Family) int {
	n := 0
	for _, f := range rfList {
		n += len(a.tables[f])
	}
	return n
}

// PathList returns a snapshot of all stored paths across rfList, primarily
// for tests and introspection.
func (a *AdjRibIn) PathList(rfList []bgp.Family) []*Path {
	out := make([]*Path, 0, a.Count(rfList))
	for _, f := range rfList {
		for _, p := range a.tables[f] {
			out = append(out, p.clone())
		}
	}
	return out
}
