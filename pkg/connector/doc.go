// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements a Matrix-Slack bridge using the mautrix
// bridgev2 framework.
//
// Each Matrix user logs in with a Slack user token and an app-level token.
// The user token drives the Web API, and the app token opens a Socket Mode
// connection that carries live events.
//
// # Core Types
//
// [SlackConnector] implements [bridgev2.NetworkConnector] and owns the
// bridge configuration and login flows.
//
// [SlackClient] represents an authenticated Slack session. On connect it
// loads every user and conversation into a per-session registry, queues a
// chat resync for each conversation the user takes part in, and then
// streams events from Socket Mode into the message [Pipeline].
//
// # Message Pipeline
//
// Every inbound message, live or backfilled, goes through [Pipeline]. It
// resolves the conversation and sender, drops messages whose timestamp
// equals the last one seen in the conversation, renders Slack markup to
// Matrix HTML and hands the result to a [Sink]. Messages sent from Matrix
// record their timestamp with [Pipeline.MarkSent] so the Socket Mode echo
// is not bridged twice.
//
// # Sub-packages
//
//   - registry holds the users and channels of one session.
//   - resolver coalesces concurrent lookups of unknown entities.
//   - slackfmt converts Slack markup and attachments to Matrix HTML.
//   - matrixfmt converts Matrix HTML to Slack markup.
package connector
