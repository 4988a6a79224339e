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
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// exampleScenario is a graceful close where the peer comes back inside the
// GR window: the same happy path testdata/gr-sweep.toml scripts, here with
// two families instead of one.
func exampleScenario() scenarioFile {
	return scenarioFile{
		Peer: peerConfig{
			ID:       "192.168.177.33",
			Graceful: true,
			LLGR:     false,
			GRTime:   "2m",
			LLGRTime: "10m",
			Families: []string{"ipv4-unicast", "ipv6-unicast"},
		},
		Tables: []tableConfig{
			{Family: "ipv4-unicast", Name: "inet.0"},
			{Family: "ipv6-unicast", Name: "inet6.0"},
		},
		Events: []eventConfig{
			{Type: "close", NonGraceful: false},
			{Type: "sleep", Duration: "100ms"},
			{Type: "ready", Value: true},
			{Type: "eor", Family: "ipv4-unicast"},
			{Type: "eor", Family: "ipv6-unicast"},
			{Type: "sleep", Duration: "100ms"},
		},
	}
}

func newTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template",
		Short: "Print an example scenario file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var buffer bytes.Buffer
			if err := toml.NewEncoder(&buffer).Encode(exampleScenario()); err != nil {
				return err
			}
			fmt.Println(buffer.String())
			return nil
		},
	}
}
