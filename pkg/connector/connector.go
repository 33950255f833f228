// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/id"
)

// SlackConnector implements bridgev2.NetworkConnector for Slack.
type SlackConnector struct {
	Bridge *bridgev2.Bridge
	Config Config
}

var _ bridgev2.NetworkConnector = (*SlackConnector)(nil)

func (sc *SlackConnector) Init(bridge *bridgev2.Bridge) {
	sc.Bridge = bridge
}

func (sc *SlackConnector) Start(ctx context.Context) error {
	if err := sc.Config.PostProcess(); err != nil {
		return fmt.Errorf("failed to post-process config: %w", err)
	}
	go sc.autoLogin(ctx)
	return nil
}

// newAPI creates a Web API client for the configured Slack host. The app
// token is only needed for Socket Mode and may be empty.
func (sc *SlackConnector) newAPI(token, appToken string) *slack.Client {
	opts := []slack.Option{slack.OptionAPIURL(sc.Config.apiURL())}
	if appToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(appToken))
	}
	return slack.New(token, opts...)
}

// autoLogin checks for SLACK_AUTO_TOKEN, SLACK_AUTO_APP_TOKEN and
// SLACK_AUTO_OWNER_MXID and performs an automatic login if no existing
// logins are found. This allows the bridge to connect on first boot
// without manual bot interaction.
func (sc *SlackConnector) autoLogin(ctx context.Context) {
	token := os.Getenv("SLACK_AUTO_TOKEN")
	appToken := os.Getenv("SLACK_AUTO_APP_TOKEN")
	ownerMXID := os.Getenv("SLACK_AUTO_OWNER_MXID")
	if token == "" || appToken == "" || ownerMXID == "" {
		return
	}

	// Wait for the bridge framework to finish loading existing logins.
	select {
	case <-ctx.Done():
		return
	case <-time.After(5 * time.Second):
	}

	existingUsers, err := sc.Bridge.DB.UserLogin.GetAllUserIDsWithLogins(ctx)
	if err != nil {
		sc.Bridge.Log.Error().Err(err).Msg("Auto-login: failed to check existing logins")
		return
	}
	if len(existingUsers) > 0 {
		sc.Bridge.Log.Info().Int("count", len(existingUsers)).Msg("Existing logins found, skipping auto-login")
		return
	}

	sc.Bridge.Log.Info().Str("api_url", sc.Config.apiURL()).Msg("Performing auto-login")

	user, err := sc.Bridge.GetUserByMXID(ctx, id.UserID(ownerMXID))
	if err != nil {
		sc.Bridge.Log.Error().Err(err).Msg("Auto-login: failed to get bridge user")
		return
	}
	ul, err := sc.createLogin(ctx, user, token, appToken)
	if err != nil {
		sc.Bridge.Log.Error().Err(err).Msg("Auto-login failed")
		return
	}
	sc.Bridge.Log.Info().
		Str("login_id", string(ul.ID)).
		Str("remote_name", ul.RemoteName).
		Msg("Auto-login complete")
}

func (sc *SlackConnector) LoadUserLogin(_ context.Context, login *bridgev2.UserLogin) error {
	login.Client = NewSlackClient(login, sc)
	return nil
}

func (sc *SlackConnector) GetName() bridgev2.BridgeName {
	return bridgev2.BridgeName{
		DisplayName:      "Slack",
		NetworkURL:       "https://slack.com",
		NetworkIcon:      "mxc://maunium.net/slack",
		NetworkID:        "slack",
		BeeperBridgeType: "slack",
		DefaultPort:      29335,
	}
}

func (sc *SlackConnector) GetDBMetaTypes() database.MetaTypes {
	return database.MetaTypes{
		UserLogin: func() any {
			return &UserLoginMetadata{}
		},
	}
}

func (sc *SlackConnector) GetCapabilities() *bridgev2.NetworkGeneralCapabilities {
	return &bridgev2.NetworkGeneralCapabilities{
		DisappearingMessages: false,
		AggressiveUpdateInfo: false,
	}
}

func (sc *SlackConnector) GetBridgeInfoVersion() (info, capabilities int) {
	return 1, 1
}

// UserLoginMetadata stores Slack-specific login data.
type UserLoginMetadata struct {
	Token    string `json:"token"`
	AppToken string `json:"app_token"`
	UserID   string `json:"user_id"`
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name,omitempty"`
}

// MakeUserLoginID creates a UserLoginID from a Slack team and user ID.
func MakeUserLoginID(teamID, userID string) networkid.UserLoginID {
	return networkid.UserLoginID(teamID + "-" + userID)
}

// ParseUserLoginID extracts the Slack team and user IDs from a UserLoginID.
func ParseUserLoginID(loginID networkid.UserLoginID) (teamID, userID string) {
	teamID, userID, ok := strings.Cut(string(loginID), "-")
	if !ok {
		return "", string(loginID)
	}
	return teamID, userID
}
