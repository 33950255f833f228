// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"strings"
	"text/template"
	"time"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mautrix-slack/pkg/connector/slackfmt"
)

//go:embed example-config.yaml
var ExampleConfig string

const (
	defaultAPIURL    = "https://slack.com/api/"
	defaultPageLimit = 200
)

// Config holds the Slack connector configuration.
type Config struct {
	// APIURL is the Slack Web API base URL. Override it for Enterprise Grid
	// hosts or a local test server.
	APIURL              string `yaml:"api_url"`
	DisplaynameTemplate string `yaml:"displayname_template"`
	// AttachmentPrefix is drawn in front of every attachment and file line.
	AttachmentPrefix string `yaml:"attachment_prefix"`
	// OpenChatOnMessage opens a joined channel that has no portal yet when
	// a message arrives in it. Otherwise such messages are dropped.
	OpenChatOnMessage bool `yaml:"open_chat_on_message"`
	// DeletionNotices posts the rendered deletion marker as a notice next
	// to the redaction.
	DeletionNotices bool `yaml:"deletion_notices"`

	BackfillEnabled  bool `yaml:"backfill_enabled"`
	BackfillMaxCount int  `yaml:"backfill_max_count"`

	PageLimit            int `yaml:"page_limit"`
	NegativeCacheSeconds int `yaml:"negative_cache_seconds"`

	displaynameTemplate *template.Template `yaml:"-"`
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	Name        string
	RealName    string
	DisplayName string
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

func (c *Config) PostProcess() error {
	var err error
	c.displaynameTemplate, err = template.New("displayname").Parse(c.DisplaynameTemplate)
	return err
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "api_url")
	helper.Copy(up.Str, "displayname_template")
	helper.Copy(up.Str, "attachment_prefix")
	helper.Copy(up.Bool, "open_chat_on_message")
	helper.Copy(up.Bool, "deletion_notices")
	helper.Copy(up.Bool, "backfill_enabled")
	helper.Copy(up.Int, "backfill_max_count")
	helper.Copy(up.Int, "page_limit")
	helper.Copy(up.Int, "negative_cache_seconds")
}

func (sc *SlackConnector) GetConfig() (example string, data any, upgrader up.Upgrader) {
	return ExampleConfig, &sc.Config, &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks:         nil,
		Base:           ExampleConfig,
	}
}

// FormatDisplayname generates a display name from the template and params.
func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Name
	}
	var buf []byte
	err := c.displaynameTemplate.Execute(
		(*templateBuffer)(&buf),
		params,
	)
	if err != nil || len(buf) == 0 {
		return params.Name
	}
	return string(buf)
}

// apiURL returns the Web API base URL with the trailing slash slack-go
// expects when joining method names.
func (c *Config) apiURL() string {
	if c.APIURL == "" {
		return defaultAPIURL
	}
	if !strings.HasSuffix(c.APIURL, "/") {
		return c.APIURL + "/"
	}
	return c.APIURL
}

func (c *Config) pageLimit() int {
	if c.PageLimit <= 0 {
		return defaultPageLimit
	}
	return c.PageLimit
}

func (c *Config) negativeCacheTTL() time.Duration {
	if c.NegativeCacheSeconds <= 0 {
		return 0
	}
	return time.Duration(c.NegativeCacheSeconds) * time.Second
}

func (c *Config) attachmentPrefix() string {
	if c.AttachmentPrefix == "" {
		return slackfmt.DefaultAttachmentPrefix
	}
	return c.AttachmentPrefix
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
