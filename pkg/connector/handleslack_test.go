// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"testing"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/simplevent"

	"github.com/aiku/mautrix-slack/pkg/connector/registry"
)

func TestParseMessageEvent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		wantNil bool
		wantErr bool
	}{
		{"plain", `{"type":"message","channel":"C1","user":"U1","ts":"1.000001","text":"hi"}`, false, false},
		{"missing channel", `{"type":"message","user":"U1","ts":"1.000001"}`, true, false},
		{"missing ts", `{"type":"message","channel":"C1","user":"U1"}`, true, false},
		{"message_replied", `{"type":"message","subtype":"message_replied","channel":"C1","ts":"1.000002"}`, true, false},
		{"invalid json", `{"type":`, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg, err := parseMessageEvent(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err: got %v, wantErr %v", err, tt.wantErr)
			}
			if (msg == nil) != tt.wantNil {
				t.Errorf("msg: got %+v, wantNil %v", msg, tt.wantNil)
			}
		})
	}
}

func TestHandleEventsAPI_Message(t *testing.T) {
	t.Parallel()
	fake := newFakeSlack()
	t.Cleanup(fake.Close)
	sc := newFullTestClient(fake.APIURL())
	openChannel(sc, "C1", "general")
	testRegistry(sc).UpsertUser("U1", registry.UserFields{Name: "alice"})

	err := sc.handleEventsAPI(context.Background(), eventCallback(
		`{"type":"message","channel":"C1","user":"U1","ts":"1700000000.000100","text":"hello"}`,
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := testMock(sc).Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	msg, ok := events[0].(*simplevent.Message[*Rendered])
	if !ok {
		t.Fatalf("expected *simplevent.Message[*Rendered], got %T", events[0])
	}
	if msg.GetType() != bridgev2.RemoteEventMessage {
		t.Errorf("type: got %v", msg.GetType())
	}
	if msg.ID != MakeMessageID("C1", "1700000000.000100") {
		t.Errorf("ID: got %q", msg.ID)
	}
	if msg.PortalKey.ID != MakePortalID("C1") {
		t.Errorf("portal: got %q", msg.PortalKey.ID)
	}
	if msg.Sender.Sender != MakeUserID("U1") {
		t.Errorf("sender: got %q", msg.Sender.Sender)
	}
	if !msg.CreatePortal {
		t.Error("messages should create the portal")
	}
	converted, err := msg.ConvertMessageFunc(context.Background(), nil, nil, msg.Data)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if converted.Parts[0].Content.Body != "hello" {
		t.Errorf("body: got %q", converted.Parts[0].Content.Body)
	}
}

func TestHandleEventsAPI_ResolvesUnknownConversation(t *testing.T) {
	t.Parallel()
	fake := newFakeSlack()
	t.Cleanup(fake.Close)
	fake.AddChannel("C7", map[string]any{"name": "fresh", "is_channel": true, "is_member": true})
	fake.AddUser("U7", "dave", nil)
	sc := newFullTestClient(fake.APIURL())

	err := sc.handleEventsAPI(context.Background(), eventCallback(
		`{"type":"message","channel":"C7","user":"U7","ts":"5.000001","text":"first"}`,
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fake.Called("conversations.info") || !fake.Called("users.info") {
		t.Error("expected the conversation and sender to be looked up")
	}
	ch, ok := testRegistry(sc).LookupChannel("C7")
	if !ok {
		t.Fatal("expected C7 in the registry")
	}
	if ch.Handle() == 0 {
		t.Error("joined channel should be opened on lookup")
	}
	if len(testMock(sc).Events()) != 1 {
		t.Errorf("expected the message to be delivered, got %d events", len(testMock(sc).Events()))
	}
}

func TestHandleEventsAPI_IgnoredEnvelopes(t *testing.T) {
	t.Parallel()
	sc := newFullTestClient("http://127.0.0.1:0/api/")
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"url verification", `{"type":"url_verification","challenge":"x"}`, false},
		{"callback without event", `{"type":"event_callback"}`, false},
		{"unhandled inner type", string(eventCallback(`{"type":"reaction_added"}`)), false},
		{"message without ts", string(eventCallback(`{"type":"message","channel":"C1"}`)), false},
		{"broken envelope", `{"type":`, true},
	}
	for _, tt := range tests {
		err := sc.handleEventsAPI(context.Background(), json.RawMessage(tt.payload))
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
	if n := len(testMock(sc).Events()); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
}

func TestHandleEventsAPI_NoSession(t *testing.T) {
	t.Parallel()
	sc := newNotLoggedInClient()
	err := sc.handleEventsAPI(context.Background(), eventCallback(
		`{"type":"message","channel":"C1","user":"U1","ts":"1.000001","text":"hi"}`,
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(testMock(sc).Events()) != 0 {
		t.Error("events without a session should be ignored")
	}
}

func TestHandleEventsAPI_UserChange(t *testing.T) {
	t.Parallel()
	sc := newFullTestClient("http://127.0.0.1:0/api/")
	reg := testRegistry(sc)

	err := sc.handleEventsAPI(context.Background(), eventCallback(`{"type":"user_change","user":{
		"id":"U1","name":"alice2","real_name":"Alice Liddell",
		"profile":{"display_name":"al","status_text":"away","avatar_hash":"h1","image_192":"https://a/192.png"}}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, ok := reg.LookupUser("U1")
	if !ok {
		t.Fatal("expected U1 in the registry")
	}
	if u.Name() != "alice2" || u.RealName() != "Alice Liddell" || u.DisplayName() != "al" {
		t.Errorf("names: got %q/%q/%q", u.Name(), u.RealName(), u.DisplayName())
	}
	if u.StatusText() != "away" {
		t.Errorf("status: got %q", u.StatusText())
	}
	if hash, url := u.Avatar(); hash != "h1" || url != "https://a/192.png" {
		t.Errorf("avatar: got %q %q", hash, url)
	}
}

func TestHandleEventsAPI_DeletedUser(t *testing.T) {
	t.Parallel()
	sc := newFullTestClient("http://127.0.0.1:0/api/")
	reg := testRegistry(sc)
	u := reg.UpsertUser("U1", registry.UserFields{Name: "alice"})
	reg.SetDirectMessage(u, "D1")

	err := sc.handleEventsAPI(context.Background(), eventCallback(
		`{"type":"user_change","user":{"id":"U1","name":"alice","deleted":true}}`,
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reg.LookupUser("U1"); ok {
		t.Error("deleted user should be removed")
	}
	if _, ok := reg.LookupByDirectMessageID("D1"); ok {
		t.Error("deleted user's DM should be released")
	}
}

func TestHandleEventsAPI_ChannelCreated(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		creator  string
		wantKind registry.ChannelKind
		wantOpen bool
	}{
		{"created by self", testSelfID, registry.KindMember, true},
		{"created by someone else", "U2", registry.KindPublic, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sc := newFullTestClient("http://127.0.0.1:0/api/")
			err := sc.handleEventsAPI(context.Background(), eventCallback(
				`{"type":"channel_created","channel":{"id":"C9","is_channel":true,"name":"launch","creator":"`+tt.creator+`"}}`,
			))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			ch, ok := testRegistry(sc).LookupChannel("C9")
			if !ok {
				t.Fatal("expected C9 in the registry")
			}
			if ch.Kind() != tt.wantKind {
				t.Errorf("kind: got %v, want %v", ch.Kind(), tt.wantKind)
			}
			if (ch.Handle() != 0) != tt.wantOpen {
				t.Errorf("open: got handle %d", ch.Handle())
			}
			if ch.Name() != "launch" {
				t.Errorf("name: got %q", ch.Name())
			}
		})
	}
}

func TestHandleEventsAPI_ChannelRename(t *testing.T) {
	t.Parallel()
	sc := newFullTestClient("http://127.0.0.1:0/api/")
	openChannel(sc, "C1", "old-name")

	err := sc.handleEventsAPI(context.Background(), eventCallback(
		`{"type":"channel_rename","channel":{"id":"C1","name":"new-name","created":1}}`,
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reg := testRegistry(sc)
	if _, ok := reg.LookupChannelByName("new-name"); !ok {
		t.Error("channel should be found by its new name")
	}
	if _, ok := reg.LookupChannelByName("old-name"); ok {
		t.Error("old name should be forgotten")
	}

	events := testMock(sc).Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	change, ok := events[0].(*simplevent.ChatInfoChange)
	if !ok {
		t.Fatalf("expected *simplevent.ChatInfoChange, got %T", events[0])
	}
	if got := change.ChatInfoChange.ChatInfo.Name; got == nil || *got != "new-name" {
		t.Errorf("name change: got %v", got)
	}
}

func TestHandleEventsAPI_ChannelRemoved(t *testing.T) {
	t.Parallel()
	for _, typ := range []string{"channel_archive", "group_archive", "channel_deleted"} {
		t.Run(typ, func(t *testing.T) {
			t.Parallel()
			sc := newFullTestClient("http://127.0.0.1:0/api/")
			ch := openChannel(sc, "C1", "doomed")
			handle := ch.Handle()

			err := sc.handleEventsAPI(context.Background(), eventCallback(`{"type":"`+typ+`","channel":"C1"}`))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			reg := testRegistry(sc)
			if _, ok := reg.LookupChannel("C1"); ok {
				t.Error("channel should be removed")
			}
			if _, ok := reg.LookupByConversationHandle(handle); ok {
				t.Error("handle should be released")
			}
		})
	}
}

func TestHandleEventsAPI_ChannelLeft(t *testing.T) {
	t.Parallel()
	sc := newFullTestClient("http://127.0.0.1:0/api/")
	ch := openChannel(sc, "C1", "general")

	err := sc.handleEventsAPI(context.Background(), eventCallback(`{"type":"channel_left","channel":"C1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Handle() != 0 {
		t.Error("left channel should be closed")
	}
	if _, ok := testRegistry(sc).LookupChannel("C1"); !ok {
		t.Error("left channel should stay known")
	}
}

func TestHandleEventsAPI_IMCreated(t *testing.T) {
	t.Parallel()
	sc := newFullTestClient("http://127.0.0.1:0/api/")

	err := sc.handleEventsAPI(context.Background(), eventCallback(
		`{"type":"im_created","user":"U3","channel":{"id":"D3"}}`,
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, ok := testRegistry(sc).LookupByDirectMessageID("D3")
	if !ok {
		t.Fatal("expected the DM to be recorded")
	}
	if u.ID() != "U3" {
		t.Errorf("DM user: got %q", u.ID())
	}
}

func TestHandleEventsAPI_MemberJoined(t *testing.T) {
	t.Parallel()
	fake := newFakeSlack()
	t.Cleanup(fake.Close)
	fake.Members["C5"] = []string{testSelfID, "U1"}
	sc := newFullTestClient(fake.APIURL())
	reg := testRegistry(sc)
	reg.UpsertChannel("C5", registry.ChannelFields{Name: "ops", Kind: registry.KindPublic})

	err := sc.handleEventsAPI(context.Background(), eventCallback(
		`{"type":"member_joined_channel","user":"`+testSelfID+`","channel":"C5","channel_type":"C"}`,
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ch, _ := reg.LookupChannel("C5")
	if ch.Kind() != registry.KindMember {
		t.Errorf("kind: got %v, want member", ch.Kind())
	}
	if ch.Handle() == 0 {
		t.Error("joined channel should be opened")
	}

	events := testMock(sc).Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	resync, ok := events[0].(*simplevent.ChatResync)
	if !ok {
		t.Fatalf("expected *simplevent.ChatResync, got %T", events[0])
	}
	if resync.ChatInfo.Members == nil || len(resync.ChatInfo.Members.MemberMap) != 2 {
		t.Errorf("members: got %+v", resync.ChatInfo.Members)
	}
}

func TestHandleEventsAPI_MemberJoinedOtherUser(t *testing.T) {
	t.Parallel()
	sc := newFullTestClient("http://127.0.0.1:0/api/")
	ch := testRegistry(sc).UpsertChannel("C5", registry.ChannelFields{Name: "ops", Kind: registry.KindPublic})

	err := sc.handleEventsAPI(context.Background(), eventCallback(
		`{"type":"member_joined_channel","user":"U2","channel":"C5"}`,
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Handle() != 0 || ch.Kind() != registry.KindPublic {
		t.Error("another user joining should not change the channel")
	}
}

func TestDeliver_EditEchoSuppressed(t *testing.T) {
	t.Parallel()
	sc := newFullTestClient("http://127.0.0.1:0/api/")
	target := MakeMessageID("C1", "1.000001")
	sc.expectEcho(RenderEdit, target)

	r := &Rendered{Kind: RenderEdit, ConversationID: "C1", Timestamp: "1.000002", TargetTimestamp: "1.000001", SenderID: testSelfID, FromMe: true, HTML: "x"}
	sc.Deliver(context.Background(), r)
	if len(testMock(sc).Events()) != 0 {
		t.Error("echo of a Matrix edit should not be bridged back")
	}

	// A second edit is a real one.
	sc.Deliver(context.Background(), r)
	events := testMock(sc).Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	edit := events[0].(*simplevent.Message[*Rendered])
	if edit.GetType() != bridgev2.RemoteEventEdit || edit.TargetMessage != target {
		t.Errorf("edit: got type %v target %q", edit.GetType(), edit.TargetMessage)
	}
}

func TestDeliver_DeleteEchoSuppressed(t *testing.T) {
	t.Parallel()
	sc := newFullTestClient("http://127.0.0.1:0/api/")
	sc.expectEcho(RenderDelete, MakeMessageID("C1", "1.000001"))

	sc.Deliver(context.Background(), &Rendered{Kind: RenderDelete, ConversationID: "C1", Timestamp: "1.000002", TargetTimestamp: "1.000001", HTML: deletedMarker + ")"})
	if len(testMock(sc).Events()) != 0 {
		t.Error("echo of a Matrix redaction should not be bridged back")
	}
}

func TestDeliver_DeleteWithNotice(t *testing.T) {
	t.Parallel()
	sc := newFullTestClient("http://127.0.0.1:0/api/")
	sc.connector.Config.DeletionNotices = true

	sc.Deliver(context.Background(), &Rendered{Kind: RenderDelete, ConversationID: "C1", Timestamp: "1.000002", TargetTimestamp: "1.000001", SenderID: "U1", HTML: deletedMarker + ")", Body: "(Deleted message)"})

	events := testMock(sc).Events()
	if len(events) != 2 {
		t.Fatalf("expected removal and notice, got %d events", len(events))
	}
	remove, ok := events[0].(*simplevent.MessageRemove)
	if !ok {
		t.Fatalf("expected *simplevent.MessageRemove, got %T", events[0])
	}
	if remove.TargetMessage != MakeMessageID("C1", "1.000001") {
		t.Errorf("target: got %q", remove.TargetMessage)
	}
	notice := events[1].(*simplevent.Message[*Rendered])
	if !notice.Data.System {
		t.Error("deletion notice should be a notice")
	}
}

func TestDeliver_TopicAndHidden(t *testing.T) {
	t.Parallel()
	sc := newFullTestClient("http://127.0.0.1:0/api/")
	topic := "new topic"

	sc.Deliver(context.Background(), &Rendered{Kind: RenderMessage, ConversationID: "C1", Timestamp: "1.000001", Topic: &topic, HTML: "set topic", Hidden: true})

	events := testMock(sc).Events()
	if len(events) != 1 {
		t.Fatalf("expected only the topic change, got %d events", len(events))
	}
	change, ok := events[0].(*simplevent.ChatInfoChange)
	if !ok {
		t.Fatalf("expected *simplevent.ChatInfoChange, got %T", events[0])
	}
	if got := change.ChatInfoChange.ChatInfo.Topic; got == nil || *got != topic {
		t.Errorf("topic: got %v", got)
	}
}

func TestDeliver_IgnoresDelayed(t *testing.T) {
	t.Parallel()
	sc := newFullTestClient("http://127.0.0.1:0/api/")

	sc.Deliver(context.Background(), &Rendered{Kind: RenderMessage, ConversationID: "C1", Timestamp: "1.000001", HTML: "old", Delayed: true})

	if events := testMock(sc).Events(); len(events) != 0 {
		t.Errorf("history should not be queued as live events, got %d", len(events))
	}
}

func TestEventSenderFor(t *testing.T) {
	t.Parallel()
	sc := newFullTestClient("http://127.0.0.1:0/api/")
	mine := sc.eventSenderFor(&Rendered{SenderID: testSelfID, FromMe: true})
	if !mine.IsFromMe || mine.Sender != MakeUserID(testSelfID) {
		t.Errorf("own sender: got %+v", mine)
	}
	other := sc.eventSenderFor(&Rendered{SenderID: "U2"})
	if other.IsFromMe || other.Sender != MakeUserID("U2") {
		t.Errorf("other sender: got %+v", other)
	}
}
