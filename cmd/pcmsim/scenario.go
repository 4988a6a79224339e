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

package main

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eapache/channels"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nischalsheth/gobgp-peerclose/internal/pkg/bgp"
	"github.com/nischalsheth/gobgp-peerclose/internal/pkg/peerclose"
	"github.com/nischalsheth/gobgp-peerclose/pkg/membership"
)

var familyByName = map[string]bgp.Family{
	"ipv4-unicast":   bgp.RF_IPv4_UC,
	"ipv6-unicast":   bgp.RF_IPv6_UC,
	"ipv4-mpls-vpn":  bgp.RF_IPv4_VPN,
	"ipv6-mpls-vpn":  bgp.RF_IPv6_VPN,
	"l2vpn-evpn":     bgp.RF_EVPN,
	"rtc-unicast":    bgp.RF_RTC_UC,
	"ipv4-flowspec":  bgp.RF_FS_IPv4_UC,
}

// scenarioFile is the TOML shape a pcmsim run command reads: the peer's
// static capabilities, the tables it is registered in, and the timed
// sequence of events to apply to its close manager.
type scenarioFile struct {
	Peer   peerConfig    `mapstructure:"peer" toml:"peer"`
	Tables []tableConfig `mapstructure:"tables" toml:"tables"`
	Events []eventConfig `mapstructure:"events" toml:"events"`
}

type peerConfig struct {
	ID       string   `mapstructure:"id" toml:"id"`
	Graceful bool     `mapstructure:"graceful" toml:"graceful"`
	LLGR     bool     `mapstructure:"llgr" toml:"llgr"`
	GRTime   string   `mapstructure:"gr_time" toml:"gr_time"`
	LLGRTime string   `mapstructure:"llgr_time" toml:"llgr_time"`
	Families []string `mapstructure:"families" toml:"families"`
}

type tableConfig struct {
	Family string `mapstructure:"family" toml:"family"`
	Name   string `mapstructure:"name" toml:"name"`
}

// eventConfig is a single scripted step. Type selects which other fields
// apply: close uses NonGraceful, eor uses Family, ready uses Value, sleep
// uses Duration.
type eventConfig struct {
	Type        string `mapstructure:"type" toml:"type"`
	NonGraceful bool   `mapstructure:"non_graceful" toml:"non_graceful"`
	Family      string `mapstructure:"family" toml:"family,omitempty"`
	Value       bool   `mapstructure:"value" toml:"value"`
	Duration    string `mapstructure:"duration" toml:"duration,omitempty"`
}

func loadScenario(path string) (*scenarioFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	var sc scenarioFile
	if err := v.Unmarshal(&sc); err != nil {
		return nil, fmt.Errorf("decoding scenario file: %w", err)
	}
	return &sc, nil
}

func newRunCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scripted close scenario against one simulated peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(path, newLogger())
		},
	}
	cmd.Flags().StringVarP(&path, "scenario", "s", "", "path to a TOML scenario file")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func runScenario(path string, logger *slog.Logger) error {
	sc, err := loadScenario(path)
	if err != nil {
		return err
	}

	grTime, err := time.ParseDuration(orDefault(sc.Peer.GRTime, "1m"))
	if err != nil {
		return fmt.Errorf("parsing gr_time: %w", err)
	}
	llgrTime, err := time.ParseDuration(orDefault(sc.Peer.LLGRTime, "5m"))
	if err != nil {
		return fmt.Errorf("parsing llgr_time: %w", err)
	}
	families, err := resolveFamilies(sc.Peer.Families)
	if err != nil {
		return err
	}

	peer := newSimPeer(sc.Peer.ID, sc.Peer.Graceful, sc.Peer.LLGR, grTime, llgrTime, families)

	mgr := membership.NewInMemoryManager(logger)
	for _, tc := range sc.Tables {
		fam, ok := familyByName[tc.Family]
		if !ok {
			return fmt.Errorf("unknown family %q in tables", tc.Family)
		}
		mgr.Register(peer.id, membership.Table{Family: fam, Name: tc.Name})
	}

	pcm := peerclose.NewManager(peer, mgr, logger)

	// Events are loaded onto an infinite channel up front and drained by a
	// single consumer loop below, the same producer/single-consumer shape
	// fsm.go uses for its outgoing-message queue.
	queue := channels.NewInfiniteChannel()
	for _, ev := range sc.Events {
		queue.In() <- ev
	}
	queue.Close()

	for raw := range queue.Out() {
		ev := raw.(eventConfig)
		if err := applyEvent(pcm, peer, ev); err != nil {
			return err
		}
		logger.Debug("applied event", slog.String("type", ev.Type), slog.String("state", pcm.Stats().State))
	}

	snap := pcm.Stats()
	logger.Info("scenario finished",
		slog.String("state", snap.State),
		slog.Bool("non_graceful", snap.NonGraceful),
		slog.Uint64("close", snap.Close),
		slog.Uint64("nested", snap.Nested),
		slog.Uint64("stale", snap.Stale),
		slog.Uint64("llgr_stale", snap.LLGRStale),
		slog.Uint64("sweep", snap.Sweep),
		slog.Uint64("deletes", snap.Deletes))
	return nil
}

func applyEvent(pcm *peerclose.Manager, peer *simPeer, ev eventConfig) error {
	switch ev.Type {
	case "close":
		pcm.Close(ev.NonGraceful)
	case "eor":
		fam, ok := familyByName[ev.Family]
		if !ok {
			return fmt.Errorf("unknown family %q in eor event", ev.Family)
		}
		pcm.EORReceived(fam)
	case "ready":
		peer.setReady(ev.Value)
	case "sleep":
		d, err := time.ParseDuration(ev.Duration)
		if err != nil {
			return fmt.Errorf("parsing sleep duration: %w", err)
		}
		time.Sleep(d)
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

func resolveFamilies(names []string) ([]bgp.Family, error) {
	out := make([]bgp.Family, 0, len(names))
	for _, n := range names {
		fam, ok := familyByName[n]
		if !ok {
			return nil, fmt.Errorf("unknown family %q", n)
		}
		out = append(out, fam)
	}
	return out, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// simPeer is the Peer implementation pcmsim drives: a standalone BGP
// session is simulated just well enough to answer the close manager's
// questions, with every notification logged instead of acted on.
type simPeer struct {
	mu sync.Mutex

	id       string
	graceful bool
	llgr     bool
	ready    bool
	grTime   time.Duration
	llgrTime time.Duration
	families []bgp.Family

	logger *slog.Logger
}

func newSimPeer(id string, graceful, llgr bool, grTime, llgrTime time.Duration, families []bgp.Family) *simPeer {
	return &simPeer{
		id:       id,
		graceful: graceful,
		llgr:     llgr,
		grTime:   grTime,
		llgrTime: llgrTime,
		families: families,
		logger:   slog.Default(),
	}
}

func (p *simPeer) ID() string { return p.id }

func (p *simPeer) IsCloseGraceful() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.graceful
}

func (p *simPeer) IsCloseLLGR() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.llgr
}

func (p *simPeer) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *simPeer) setReady(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = v
}

func (p *simPeer) GracefulRestartStale() {
	p.logger.Info("peer entering stale", slog.String("peer", p.id))
}

func (p *simPeer) GetGracefulRestartFamilies() []bgp.Family {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.families
}

func (p *simPeer) GetGracefulRestartTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.grTime
}

func (p *simPeer) GetLLGRTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.llgrTime
}

func (p *simPeer) GracefulRestartSweep() {
	p.logger.Info("peer sweeping stale routes", slog.String("peer", p.id))
}

func (p *simPeer) CustomClose() {
	p.logger.Info("peer running custom close", slog.String("peer", p.id))
}

func (p *simPeer) CloseComplete() {
	p.logger.Info("peer stale walk complete", slog.String("peer", p.id))
}

func (p *simPeer) Delete() {
	p.logger.Info("peer deleted", slog.String("peer", p.id))
}

func (p *simPeer) CanUseMembershipManager() bool { return true }
