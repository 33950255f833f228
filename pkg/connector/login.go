// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
)

const (
	loginFlowToken = "token"

	loginStepTokens   = "fi.mau.slack.login.tokens"
	loginStepComplete = "fi.mau.slack.login.complete"
)

var (
	errMissingToken    = errors.New("a user token (xoxp-) is required")
	errMissingAppToken = errors.New("an app-level token (xapp-) is required for Socket Mode")
)

// GetLoginFlows returns the available login methods for the bridge.
func (sc *SlackConnector) GetLoginFlows() []bridgev2.LoginFlow {
	return []bridgev2.LoginFlow{
		{
			Name:        "Tokens",
			Description: "Log in with a Slack user token and a Socket Mode app token",
			ID:          loginFlowToken,
		},
	}
}

// CreateLogin starts a new login process for the given flow.
func (sc *SlackConnector) CreateLogin(_ context.Context, user *bridgev2.User, flowID string) (bridgev2.LoginProcess, error) {
	switch flowID {
	case loginFlowToken:
		return &TokenLoginProcess{
			connector: sc,
			user:      user,
		}, nil
	default:
		return nil, fmt.Errorf("unknown login flow: %s", flowID)
	}
}

// TokenLoginProcess implements token-based login.
type TokenLoginProcess struct {
	connector *SlackConnector
	user      *bridgev2.User
}

var _ bridgev2.LoginProcessUserInput = (*TokenLoginProcess)(nil)

func (t *TokenLoginProcess) Start(_ context.Context) (*bridgev2.LoginStep, error) {
	return &bridgev2.LoginStep{
		Type:         bridgev2.LoginStepTypeUserInput,
		StepID:       loginStepTokens,
		Instructions: "Enter your Slack user token and the app-level token of a Socket Mode app installed in the same workspace",
		UserInputParams: &bridgev2.LoginUserInputParams{
			Fields: []bridgev2.LoginInputDataField{
				{
					Type: bridgev2.LoginInputFieldTypePassword,
					ID:   "token",
					Name: "User token (xoxp-...)",
				},
				{
					Type: bridgev2.LoginInputFieldTypePassword,
					ID:   "app_token",
					Name: "App token (xapp-...)",
				},
			},
		},
	}, nil
}

func (t *TokenLoginProcess) SubmitUserInput(ctx context.Context, input map[string]string) (*bridgev2.LoginStep, error) {
	token := strings.TrimSpace(input["token"])
	appToken := strings.TrimSpace(input["app_token"])
	ul, err := t.connector.createLogin(ctx, t.user, token, appToken)
	if err != nil {
		return nil, err
	}
	meta := getLoginMeta(ul)
	return &bridgev2.LoginStep{
		Type:         bridgev2.LoginStepTypeComplete,
		StepID:       loginStepComplete,
		Instructions: fmt.Sprintf("Logged in as %s", ul.RemoteName),
		CompleteParams: &bridgev2.LoginCompleteParams{
			UserLoginID: MakeUserLoginID(meta.TeamID, meta.UserID),
			UserLogin:   ul,
		},
	}, nil
}

func (t *TokenLoginProcess) Cancel() {}

// createLogin validates the tokens, stores a new UserLogin for user and
// connects it.
func (sc *SlackConnector) createLogin(ctx context.Context, user *bridgev2.User, token, appToken string) (*bridgev2.UserLogin, error) {
	result, err := validateTokenLogin(ctx, sc.newAPI(token, appToken), token, appToken)
	if err != nil {
		return nil, err
	}

	ul, err := user.NewLogin(ctx, &database.UserLogin{
		ID:         MakeUserLoginID(result.Auth.TeamID, result.Auth.UserID),
		RemoteName: formatRemoteName(result.Auth),
	}, &bridgev2.NewLoginParams{
		LoadUserLogin: sc.LoadUserLogin,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create login: %w", err)
	}

	meta := getLoginMeta(ul)
	meta.Token = token
	meta.AppToken = appToken
	meta.UserID = result.Auth.UserID
	meta.TeamID = result.Auth.TeamID
	meta.TeamName = result.Auth.Team
	if err := ul.Save(ctx); err != nil {
		return nil, fmt.Errorf("failed to save login: %w", err)
	}

	// Connect after saving.
	client := ul.Client.(*SlackClient)
	client.api = result.Client
	client.userID = result.Auth.UserID
	client.teamID = result.Auth.TeamID
	client.appToken = appToken
	client.Connect(ctx)
	return ul, nil
}

// getLoginMeta is a helper to extract metadata from a UserLogin.
func getLoginMeta(login *bridgev2.UserLogin) *UserLoginMetadata {
	return login.Metadata.(*UserLoginMetadata)
}

// loginResult holds the validated result of a token login attempt.
type loginResult struct {
	Auth   *slack.AuthTestResponse
	Client *slack.Client
}

// validateTokenLogin checks both tokens are present and that the user token
// authenticates.
func validateTokenLogin(ctx context.Context, api *slack.Client, token, appToken string) (*loginResult, error) {
	if token == "" {
		return nil, errMissingToken
	}
	if appToken == "" {
		return nil, errMissingAppToken
	}
	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if auth.UserID == "" {
		return nil, fmt.Errorf("authentication failed: auth.test returned no user")
	}
	return &loginResult{
		Auth:   auth,
		Client: api,
	}, nil
}

func formatRemoteName(auth *slack.AuthTestResponse) string {
	if auth.Team == "" {
		return auth.User
	}
	return fmt.Sprintf("%s @ %s", auth.User, auth.Team)
}
