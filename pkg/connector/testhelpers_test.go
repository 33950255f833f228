// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"

	"github.com/aiku/mautrix-slack/pkg/connector/registry"
)

const (
	testSelfID = "U0SELF"
	testTeamID = "T0TEAM"
)

// mockEventSender captures queued remote events for test assertions.
type mockEventSender struct {
	mu     sync.Mutex
	events []bridgev2.RemoteEvent
}

func (m *mockEventSender) QueueRemoteEvent(_ *bridgev2.UserLogin, evt bridgev2.RemoteEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockEventSender) Events() []bridgev2.RemoteEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]bridgev2.RemoteEvent, len(m.events))
	copy(cp, m.events)
	return cp
}

func (m *mockEventSender) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

// endpointCall records which Web API methods were hit during a test.
type endpointCall struct {
	Method string
	Form   url.Values
}

// fakeSlack is a test helper that wraps an httptest.Server simulating the
// Slack Web API. It records calls and provides canned responses.
type fakeSlack struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Auth is the auth.test response. A nil Auth answers invalid_auth.
	Auth map[string]any
	// Users maps user ID to a users.info/users.list entry.
	Users map[string]map[string]any
	// UserOrder lists user IDs in users.list order.
	UserOrder []string
	// Channels maps conversation ID to a conversations.info entry.
	Channels map[string]map[string]any
	// ChannelOrder lists conversation IDs in conversations.list order.
	ChannelOrder []string
	// Members maps conversation ID to its member IDs.
	Members map[string][]string
	// History maps conversation ID to its messages, newest first.
	History map[string][]map[string]any
	// HistoryHasMore and HistoryCursor shape conversations.history replies.
	HistoryHasMore bool
	HistoryCursor  string
	// Files maps a download path to its bytes.
	Files map[string][]byte
	// PageSize splits list responses into cursor pages when set.
	PageSize int
	// FailMethods causes specific methods to answer ok=false.
	FailMethods map[string]bool

	nextTS int
}

func newFakeSlack() *fakeSlack {
	f := &fakeSlack{
		Auth: map[string]any{
			"url":     "https://acme.slack.com/",
			"team":    "Acme",
			"user":    "me",
			"team_id": testTeamID,
			"user_id": testSelfID,
		},
		Users:       make(map[string]map[string]any),
		Channels:    make(map[string]map[string]any),
		Members:     make(map[string][]string),
		History:     make(map[string][]map[string]any),
		Files:       make(map[string][]byte),
		FailMethods: make(map[string]bool),
		nextTS:      1000,
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeSlack) Close() {
	f.Server.Close()
}

// APIURL returns the Web API base URL of the fake.
func (f *fakeSlack) APIURL() string {
	return f.Server.URL + "/api/"
}

func (f *fakeSlack) AddUser(id, name string, extra map[string]any) {
	u := map[string]any{"id": id, "name": name, "profile": map[string]any{}}
	for k, v := range extra {
		u[k] = v
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Users[id] = u
	f.UserOrder = append(f.UserOrder, id)
}

func (f *fakeSlack) AddChannel(id string, fields map[string]any) {
	ch := map[string]any{"id": id}
	for k, v := range fields {
		ch[k] = v
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Channels[id] = ch
	f.ChannelOrder = append(f.ChannelOrder, id)
}

func (f *fakeSlack) record(method string, form url.Values) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Form: form})
}

func (f *fakeSlack) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// CallsTo returns the recorded calls of one Web API method.
func (f *fakeSlack) CallsTo(method string) []endpointCall {
	var out []endpointCall
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeSlack) Called(method string) bool {
	return len(f.CallsTo(method)) > 0
}

func writeJSON(w http.ResponseWriter, v map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func slackError(w http.ResponseWriter, code string) {
	writeJSON(w, map[string]any{"ok": false, "error": code})
}

func okResponse(fields map[string]any) map[string]any {
	out := map[string]any{"ok": true}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// page slices ids by the fake's page size, using the offset as the cursor.
func (f *fakeSlack) page(ids []string, cursor string) ([]string, string) {
	if f.PageSize <= 0 {
		return ids, ""
	}
	start, _ := strconv.Atoi(cursor)
	if start > len(ids) {
		start = len(ids)
	}
	end := min(start+f.PageSize, len(ids))
	next := ""
	if end < len(ids) {
		next = strconv.Itoa(end)
	}
	return ids[start:end], next
}

func (f *fakeSlack) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	data, isFile := f.Files[r.URL.Path]
	f.mu.Unlock()
	if isFile {
		_, _ = w.Write(data)
		return
	}
	if !strings.HasPrefix(r.URL.Path, "/api/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_ = r.ParseForm()
	method := strings.TrimPrefix(r.URL.Path, "/api/")
	f.record(method, r.Form)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailMethods[method] {
		slackError(w, "fatal_error")
		return
	}

	switch method {
	case "auth.test":
		if f.Auth == nil {
			slackError(w, "invalid_auth")
			return
		}
		writeJSON(w, okResponse(f.Auth))

	case "auth.revoke":
		writeJSON(w, okResponse(map[string]any{"revoked": true}))

	case "users.list":
		ids, next := f.page(f.UserOrder, r.Form.Get("cursor"))
		members := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			members = append(members, f.Users[id])
		}
		writeJSON(w, okResponse(map[string]any{
			"members":           members,
			"response_metadata": map[string]any{"next_cursor": next},
		}))

	case "users.info":
		u, found := f.Users[r.Form.Get("user")]
		if !found {
			slackError(w, "user_not_found")
			return
		}
		writeJSON(w, okResponse(map[string]any{"user": u}))

	case "conversations.list":
		ids, next := f.page(f.ChannelOrder, r.Form.Get("cursor"))
		channels := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			channels = append(channels, f.Channels[id])
		}
		writeJSON(w, okResponse(map[string]any{
			"channels":          channels,
			"response_metadata": map[string]any{"next_cursor": next},
		}))

	case "conversations.info":
		ch, found := f.Channels[r.Form.Get("channel")]
		if !found {
			slackError(w, "channel_not_found")
			return
		}
		writeJSON(w, okResponse(map[string]any{"channel": ch}))

	case "conversations.members":
		ids, next := f.page(f.Members[r.Form.Get("channel")], r.Form.Get("cursor"))
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, okResponse(map[string]any{
			"members":           ids,
			"response_metadata": map[string]any{"next_cursor": next},
		}))

	case "conversations.history":
		msgs := f.History[r.Form.Get("channel")]
		if msgs == nil {
			msgs = []map[string]any{}
		}
		writeJSON(w, okResponse(map[string]any{
			"messages":          msgs,
			"has_more":          f.HistoryHasMore,
			"response_metadata": map[string]any{"next_cursor": f.HistoryCursor},
		}))

	case "conversations.mark":
		writeJSON(w, okResponse(nil))

	case "chat.postMessage", "chat.meMessage":
		f.nextTS++
		writeJSON(w, okResponse(map[string]any{
			"channel": r.Form.Get("channel"),
			"ts":      strconv.Itoa(f.nextTS) + ".000100",
		}))

	case "chat.update":
		writeJSON(w, okResponse(map[string]any{
			"channel": r.Form.Get("channel"),
			"ts":      r.Form.Get("ts"),
			"text":    r.Form.Get("text"),
		}))

	case "chat.delete":
		writeJSON(w, okResponse(map[string]any{
			"channel": r.Form.Get("channel"),
			"ts":      r.Form.Get("ts"),
		}))

	default:
		slackError(w, "unknown_method")
	}
}

// newTestConnector creates a SlackConnector pointed at the fake server.
func newTestConnector(apiURL string) *SlackConnector {
	return &SlackConnector{
		Config: Config{APIURL: apiURL},
	}
}

// newFullTestClient creates a SlackClient connected to a fake server with a
// live session and a mock event sender. The client is considered logged in.
func newFullTestClient(apiURL string) *SlackClient {
	connector := newTestConnector(apiURL)
	sc := &SlackClient{
		connector:   connector,
		eventSender: &mockEventSender{},
		api:         connector.newAPI("xoxp-test", "xapp-test"),
		appToken:    "xapp-test",
		userID:      testSelfID,
		teamID:      testTeamID,
		stopChan:    make(chan struct{}),
		log:         zerolog.Nop(),
	}
	sc.setSession(sc.newSession(testSelfID))
	return sc
}

// testMock returns the mockEventSender from a test client.
func testMock(sc *SlackClient) *mockEventSender {
	return sc.eventSender.(*mockEventSender)
}

// testRegistry returns the registry of a test client's session.
func testRegistry(sc *SlackClient) *registry.Registry {
	return sc.getSession().registry
}

// newNotLoggedInClient creates a SlackClient that is not logged in.
func newNotLoggedInClient() *SlackClient {
	return &SlackClient{
		connector:   newTestConnector(""),
		eventSender: &mockEventSender{},
		userID:      testSelfID,
		stopChan:    make(chan struct{}),
		log:         zerolog.Nop(),
	}
}

// openChannel registers a joined, open channel in the client's registry.
func openChannel(sc *SlackClient, id, name string) *registry.Channel {
	reg := testRegistry(sc)
	ch := reg.UpsertChannel(id, registry.ChannelFields{Name: name, Kind: registry.KindMember})
	reg.Open(ch)
	return ch
}

// makeTestPortal creates a minimal bridgev2.Portal for testing.
func makeTestPortal(channelID string) *bridgev2.Portal {
	return &bridgev2.Portal{
		Portal: &database.Portal{
			PortalKey: networkid.PortalKey{
				ID: MakePortalID(channelID),
			},
		},
	}
}

// eventCallback wraps an inner event in an Events API envelope.
func eventCallback(inner string) json.RawMessage {
	return json.RawMessage(`{"type":"event_callback","team_id":"` + testTeamID + `","event":` + inner + `}`)
}
