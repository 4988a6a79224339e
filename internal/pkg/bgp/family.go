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

// Package bgp carries the small slice of BGP identifiers the peer close
// manager needs: address families and the two well-known communities that
// drive long-lived graceful restart. It deliberately does not attempt the
// full attribute/message codec.
package bgp

import "strconv"

const (
	afiIP    = 1
	afiIP6   = 2
	afiL2VPN = 25
)

const (
	safiUnicast  = 1
	safiMPLSVPN  = 128
	safiEVPN     = 70
	safiRTC      = 132
	safiFlowSpec = 133
)

// Family identifies an AFI/SAFI pair, the same encoding gobgp's RouteFamily
// uses: AFI in the high 16 bits, SAFI in the low 8.
type Family int

func afiSafi(afi, safi int) Family {
	return Family(afi<<16 | safi)
}

const (
	RF_IPv4_UC     Family = afiIP<<16 | safiUnicast
	RF_IPv6_UC     Family = afiIP6<<16 | safiUnicast
	RF_IPv4_VPN    Family = afiIP<<16 | safiMPLSVPN
	RF_IPv6_VPN    Family = afiIP6<<16 | safiMPLSVPN
	RF_EVPN        Family = afiL2VPN<<16 | safiEVPN
	RF_RTC_UC      Family = afiIP<<16 | safiRTC
	RF_FS_IPv4_UC  Family = afiIP<<16 | safiFlowSpec
	RF_UNSPEC      Family = 0
)

var familyNames = map[Family]string{
	RF_IPv4_UC:    "ipv4-unicast",
	RF_IPv6_UC:    "ipv6-unicast",
	RF_IPv4_VPN:   "ipv4-mpls-vpn",
	RF_IPv6_VPN:   "ipv6-mpls-vpn",
	RF_EVPN:       "l2vpn-evpn",
	RF_RTC_UC:     "rtc-unicast",
	RF_FS_IPv4_UC: "ipv4-flowspec",
	RF_UNSPEC:     "unspec",
}

func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	afi, safi := f>>16, f&0xff
	return "unknown-afi-" + strconv.Itoa(int(afi)) + "-safi-" + strconv.Itoa(int(safi))
}

// Community is a well-known BGP community value.
type Community uint32

const (
	// COMMUNITY_LLGR_STALE marks a path as long-lived-graceful-restart stale
	// (RFC 9494, section 3).
	COMMUNITY_LLGR_STALE Community = 0xFFFF0006
	// COMMUNITY_NO_LLGR tells a close manager never to hold this path under
	// LLGR; it must be deleted outright when LLGR_STALE would otherwise apply.
	COMMUNITY_NO_LLGR Community = 0xFFFF0007
)
