// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command mautrix-slack is a Matrix-Slack puppeting bridge built on the
// mautrix bridgev2 framework. Each Matrix user logs in with their own Slack
// user token and receives events over Socket Mode.
package main

import (
	"github.com/aiku/mautrix-slack/pkg/connector"
	"maunium.net/go/mautrix/bridgev2/matrix/mxmain"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var m = mxmain.BridgeMain{
	Name:        "mautrix-slack",
	URL:         "https://github.com/aiku/mautrix-slack",
	Description: "A Matrix-Slack puppeting bridge",
	Version:     "0.1.0",

	Connector: &connector.SlackConnector{},
}

func main() {
	m.InitVersion(Tag, Commit, BuildTime)
	m.Run()
}
