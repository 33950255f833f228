// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/bridgev2/status"
	"maunium.net/go/mautrix/event"

	"github.com/aiku/mautrix-slack/pkg/connector/matrixfmt"
)

// remoteEventSender is an interface for queuing remote events. This allows
// tests to inject a mock instead of requiring a full bridgev2.Bridge.
type remoteEventSender interface {
	QueueRemoteEvent(login *bridgev2.UserLogin, evt bridgev2.RemoteEvent)
}

// bridgeEventSender is the production implementation that delegates to the bridge.
type bridgeEventSender struct {
	bridge *bridgev2.Bridge
}

func (b *bridgeEventSender) QueueRemoteEvent(login *bridgev2.UserLogin, evt bridgev2.RemoteEvent) {
	b.bridge.QueueRemoteEvent(login, evt)
}

// SlackClient represents a single authenticated Slack user connection.
type SlackClient struct {
	connector   *SlackConnector
	userLogin   *bridgev2.UserLogin
	eventSender remoteEventSender

	api      *slack.Client
	socket   *socketmode.Client
	appToken string
	userID   string
	teamID   string

	sessionMu sync.RWMutex
	session   *session
	// echoes holds edits and deletes sent from Matrix whose Slack echo
	// has not arrived yet.
	echoes sync.Map

	cancel   context.CancelFunc
	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
}

var (
	_ bridgev2.NetworkAPI                    = (*SlackClient)(nil)
	_ bridgev2.EditHandlingNetworkAPI        = (*SlackClient)(nil)
	_ bridgev2.RedactionHandlingNetworkAPI   = (*SlackClient)(nil)
	_ bridgev2.ReadReceiptHandlingNetworkAPI = (*SlackClient)(nil)
	_ Sink                                   = (*SlackClient)(nil)
)

// NewSlackClient creates a new client from an existing user login.
func NewSlackClient(login *bridgev2.UserLogin, connector *SlackConnector) *SlackClient {
	log := login.Log.With().Str("component", "slack_client").Logger()
	sc := &SlackClient{
		connector:   connector,
		userLogin:   login,
		eventSender: &bridgeEventSender{bridge: connector.Bridge},
		stopChan:    make(chan struct{}),
		log:         log,
	}
	meta, _ := login.Metadata.(*UserLoginMetadata)
	if meta == nil {
		return sc
	}
	// Restore the IDs even without a token so IsThisUser keeps working.
	sc.userID = meta.UserID
	sc.teamID = meta.TeamID
	sc.appToken = meta.AppToken
	if meta.Token != "" {
		sc.api = connector.newAPI(meta.Token, meta.AppToken)
	}
	return sc
}

// Connect implements bridgev2.NetworkAPI. It does not return an error;
// connection errors are reported via BridgeState.
func (s *SlackClient) Connect(ctx context.Context) {
	if s.api == nil {
		s.log.Warn().Msg("Client not initialized, login first")
		s.userLogin.BridgeState.Send(status.BridgeState{
			StateEvent: status.StateBadCredentials,
			Error:      "slack-not-logged-in",
			Message:    "Not logged in to Slack",
		})
		return
	}

	s.log.Info().Str("api_url", s.connector.Config.apiURL()).Msg("Connecting to Slack")

	auth, err := s.api.AuthTestContext(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to verify Slack session")
		s.userLogin.BridgeState.Send(status.BridgeState{
			StateEvent: status.StateBadCredentials,
			Error:      "slack-token-invalid",
			Message:    "Slack authentication token is invalid",
		})
		return
	}
	s.userID = auth.UserID
	s.teamID = auth.TeamID
	s.log.Info().Str("user_id", auth.UserID).Str("team", auth.Team).Msg("Authenticated")

	s.setSession(s.newSession(s.userID))

	if err := s.connectSocket(); err != nil {
		s.log.Error().Err(err).Msg("Socket Mode connection failed")
		s.userLogin.BridgeState.Send(status.BridgeState{
			StateEvent: status.StateTransientDisconnect,
			Error:      "slack-socket-failed",
			Message:    "Socket Mode connection failed",
		})
		return
	}

	s.userLogin.BridgeState.Send(status.BridgeState{
		StateEvent: status.StateConnected,
	})

	// Load users and conversations, then create portal rooms in Matrix.
	go s.syncAll(ctx)
}

// socketLogger adapts zerolog to the slack-go logger interface.
type socketLogger struct {
	log zerolog.Logger
}

func (l socketLogger) Output(_ int, msg string) error {
	l.log.Trace().Msg(strings.TrimSpace(msg))
	return nil
}

func (s *SlackClient) connectSocket() error {
	if s.appToken == "" {
		return errMissingAppToken
	}
	s.socket = socketmode.New(s.api,
		socketmode.OptionLog(socketLogger{log: s.log.With().Str("component", "socketmode").Logger()}),
		socketmode.OptionDebug(s.log.GetLevel() <= zerolog.TraceLevel),
	)
	ctx, cancel := context.WithCancel(s.log.WithContext(context.Background()))
	s.cancel = cancel

	socket := s.socket
	go func() {
		err := socket.RunContext(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error().Err(err).Msg("Socket Mode connection lost")
			s.userLogin.BridgeState.Send(status.BridgeState{
				StateEvent: status.StateTransientDisconnect,
				Error:      "slack-socket-disconnected",
				Message:    "Socket Mode disconnected",
			})
		}
	}()
	go s.listenSocket(ctx, socket)
	return nil
}

func (s *SlackClient) listenSocket(ctx context.Context, socket *socketmode.Client) {
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case evt, ok := <-socket.Events:
			if !ok {
				return
			}
			s.handleSocketEvent(ctx, socket, evt)
		}
	}
}

func (s *SlackClient) handleSocketEvent(ctx context.Context, socket *socketmode.Client, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		s.log.Debug().Msg("Connecting to Socket Mode")
	case socketmode.EventTypeConnected:
		s.log.Info().Msg("Socket Mode connected")
		s.userLogin.BridgeState.Send(status.BridgeState{
			StateEvent: status.StateConnected,
		})
	case socketmode.EventTypeConnectionError:
		s.log.Warn().Interface("data", evt.Data).Msg("Socket Mode connection error")
		s.userLogin.BridgeState.Send(status.BridgeState{
			StateEvent: status.StateTransientDisconnect,
			Error:      "slack-socket-error",
			Message:    "Socket Mode connection error, reconnecting",
		})
	case socketmode.EventTypeInvalidAuth:
		s.log.Error().Msg("Socket Mode rejected the app token")
		s.userLogin.BridgeState.Send(status.BridgeState{
			StateEvent: status.StateBadCredentials,
			Error:      "slack-app-token-invalid",
			Message:    "Slack app-level token is invalid",
		})
	case socketmode.EventTypeEventsAPI:
		if evt.Request == nil {
			return
		}
		socket.Ack(*evt.Request)
		if err := s.handleEventsAPI(ctx, evt.Request.Payload); err != nil {
			s.log.Warn().Err(err).Str("envelope_id", evt.Request.EnvelopeID).Msg("Failed to handle event")
		}
	default:
		s.log.Trace().Str("event_type", string(evt.Type)).Msg("Unhandled Socket Mode event")
	}
}

// Disconnect stops the Socket Mode loop and tears the session down.
func (s *SlackClient) Disconnect() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.socket = nil
	s.setSession(nil)
}

// IsLoggedIn reports whether the client holds an API token.
func (s *SlackClient) IsLoggedIn() bool {
	return s.api != nil
}

func (s *SlackClient) LogoutRemote(ctx context.Context) {
	if s.api != nil {
		if _, err := s.api.SendAuthRevokeContext(ctx, ""); err != nil {
			s.log.Warn().Err(err).Msg("Failed to revoke token")
		}
	}
	s.Disconnect()
}

// IsThisUser reports whether the given network user ID matches this client's Slack user.
func (s *SlackClient) IsThisUser(_ context.Context, userID networkid.UserID) bool {
	return ParseUserID(userID) == s.userID
}

func (s *SlackClient) GetChatInfo(ctx context.Context, portal *bridgev2.Portal) (*bridgev2.ChatInfo, error) {
	sess := s.getSession()
	if sess == nil {
		return nil, bridgev2.ErrNotLoggedIn
	}
	conv, err := sess.conversations.Wait(ctx, ParsePortalID(portal.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation info: %w", err)
	}
	return s.conversationChatInfo(ctx, conv)
}

func (s *SlackClient) GetUserInfo(ctx context.Context, ghost *bridgev2.Ghost) (*bridgev2.UserInfo, error) {
	sess := s.getSession()
	if sess == nil {
		return nil, bridgev2.ErrNotLoggedIn
	}
	user, err := sess.users.Wait(ctx, ParseUserID(ghost.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	return s.userToUserInfo(user), nil
}

func (s *SlackClient) GetCapabilities(_ context.Context, _ *bridgev2.Portal) *event.RoomFeatures {
	return &event.RoomFeatures{
		Formatting: event.FormattingFeatureMap{
			event.FmtBold:          event.CapLevelFullySupported,
			event.FmtItalic:        event.CapLevelFullySupported,
			event.FmtStrikethrough: event.CapLevelFullySupported,
			event.FmtInlineCode:    event.CapLevelFullySupported,
			event.FmtCodeBlock:     event.CapLevelFullySupported,
			event.FmtBlockquote:    event.CapLevelPartialSupport,
			event.FmtInlineLink:    event.CapLevelPartialSupport,
			event.FmtUserLink:      event.CapLevelFullySupported,
			event.FmtUnorderedList: event.CapLevelPartialSupport,
			event.FmtOrderedList:   event.CapLevelPartialSupport,
			event.FmtHeaders:       event.CapLevelPartialSupport,
		},
		MaxTextLength: matrixfmt.MaxMessageLength,
		Reply:         event.CapLevelPartialSupport,
		Thread:        event.CapLevelFullySupported,
		Edit:          event.CapLevelFullySupported,
		Delete:        event.CapLevelFullySupported,
		ReadReceipts:  true,
	}
}
