// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrixfmt converts Matrix messages to Slack message markup.
package matrixfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"
)

var (
	strongRe     = regexp.MustCompile(`(?s)<(?:strong|b)>(.*?)</(?:strong|b)>`)
	emRe         = regexp.MustCompile(`(?s)<(?:em|i)>(.*?)</(?:em|i)>`)
	delRe        = regexp.MustCompile(`(?s)<(?:del|s|strike)>(.*?)</(?:del|s|strike)>`)
	codeRe       = regexp.MustCompile(`<code[^>]*>(.*?)</code>`)
	preRe        = regexp.MustCompile(`(?s)<pre[^>]*><code[^>]*>(.*?)</code></pre>`)
	pillRe       = regexp.MustCompile(`<a href="https://matrix\.to/#/[@#][^"]*"[^>]*>(.*?)</a>`)
	linkRe       = regexp.MustCompile(`<a href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	headingRe    = regexp.MustCompile(`<h([1-6])>(.*?)</h[1-6]>`)
	ulRe         = regexp.MustCompile(`(?s)<ul>(.*?)</ul>`)
	olRe         = regexp.MustCompile(`(?s)<ol>(.*?)</ol>`)
	liRe         = regexp.MustCompile(`(?s)<li>(.*?)</li>`)
	pRe          = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	replyRe      = regexp.MustCompile(`(?s)<mx-reply>.*?</mx-reply>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
)

// Parse converts Matrix message content to Slack message markup. Mentions of
// users and channels that dir knows become Slack references.
func Parse(content *event.MessageEventContent, dir Directory) (string, error) {
	if content == nil {
		return "", nil
	}
	return ToWire(toDisplay(content), dir)
}

// toDisplay reduces Matrix content to display text: Slack mrkdwn with HTML
// entities still encoded and newlines as <br>.
func toDisplay(content *event.MessageEventContent) string {
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return strings.ReplaceAll(html.EscapeString(content.Body), "\n", "<br>")
	}

	text := replyRe.ReplaceAllString(content.FormattedBody, "")

	// Code blocks first; their newlines are the only significant ones.
	text = preRe.ReplaceAllStringFunc(text, func(match string) string {
		body := strings.TrimSuffix(preRe.FindStringSubmatch(match)[1], "\n")
		return "```<br>" + strings.ReplaceAll(body, "\n", "<br>") + "<br>```<br>"
	})
	text = strings.ReplaceAll(text, "\n", "")
	text = codeRe.ReplaceAllString(text, "`$1`")

	text = strongRe.ReplaceAllString(text, "*$1*")
	text = emRe.ReplaceAllString(text, "_${1}_")
	text = delRe.ReplaceAllString(text, "~$1~")

	text = pillRe.ReplaceAllStringFunc(text, func(match string) string {
		name := tagRe.ReplaceAllString(pillRe.FindStringSubmatch(match)[1], "")
		if strings.HasPrefix(name, "@") || strings.HasPrefix(name, "#") {
			return name
		}
		return "@" + name
	})
	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		href, label := parts[1], tagRe.ReplaceAllString(parts[2], "")
		if label == "" || label == href || "mailto:"+label == href {
			return href
		}
		return label + " (" + href + ")"
	})

	text = headingRe.ReplaceAllString(text, "*$2*<br>")

	text = blockquoteRe.ReplaceAllStringFunc(text, func(match string) string {
		inner := blockquoteRe.FindStringSubmatch(match)[1]
		inner = pRe.ReplaceAllString(inner, "$1<br>")
		lines := brRe.Split(strings.TrimSpace(inner), -1)
		var out []string
		for _, line := range lines {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, "&gt; "+line)
			}
		}
		return strings.Join(out, "<br>") + "<br>"
	})

	text = ulRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		var result []string
		for _, item := range items {
			result = append(result, "• "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "<br>") + "<br>"
	})
	text = olRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		var result []string
		for i, item := range items {
			result = append(result, strconv.Itoa(i+1)+". "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "<br>") + "<br>"
	})

	text = pRe.ReplaceAllString(text, "$1<br><br>")
	text = brRe.ReplaceAllString(text, "\x00")
	text = tagRe.ReplaceAllString(text, "")
	text = strings.Trim(text, "\x00 ")
	return strings.ReplaceAll(text, "\x00", "<br>")
}
