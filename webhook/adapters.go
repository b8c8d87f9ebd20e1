// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"kaizenstudio/platform/invocation"
)

// Adapter translates a terminal invocation into a platform payload.
type Adapter interface {
	Platform() string
	FormatPayload(sub *Subscription, agent *invocation.ExternalAgent, inv *invocation.Invocation) (body []byte, headers map[string]string, err error)
}

// AdapterFor returns the adapter for a platform name.
func AdapterFor(platform string) (Adapter, error) {
	switch platform {
	case invocation.PlatformTeams:
		return teamsAdapter{}, nil
	case invocation.PlatformDiscord:
		return discordAdapter{}, nil
	case invocation.PlatformSlack:
		return slackAdapter{}, nil
	case invocation.PlatformTelegram:
		return telegramAdapter{}, nil
	case invocation.PlatformNotion:
		return notionAdapter{}, nil
	case invocation.PlatformCustomHTTP, "":
		return customHTTPAdapter{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
}

func statusLine(inv *invocation.Invocation) string {
	if inv.Status == invocation.InvocationSuccess {
		return "succeeded"
	}
	return "failed"
}

// Teams theme colors by status.
const (
	teamsColorSuccess = "2EB886"
	teamsColorFailure = "A30200"
)

// teamsAdapter builds an Adaptive Card v1.5 wrapped in the connector
// message envelope.
type teamsAdapter struct{}

func (teamsAdapter) Platform() string { return invocation.PlatformTeams }

func (teamsAdapter) FormatPayload(_ *Subscription, agent *invocation.ExternalAgent, inv *invocation.Invocation) ([]byte, map[string]string, error) {
	color := teamsColorSuccess
	if inv.Status != invocation.InvocationSuccess {
		color = teamsColorFailure
	}
	card := map[string]interface{}{
		"type": "message",
		"attachments": []map[string]interface{}{{
			"contentType": "application/vnd.microsoft.card.adaptive",
			"content": map[string]interface{}{
				"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
				"type":    "AdaptiveCard",
				"version": "1.5",
				"body": []map[string]interface{}{
					{
						"type":   "TextBlock",
						"size":   "Medium",
						"weight": "Bolder",
						"text":   fmt.Sprintf("Agent %s %s", agent.Name, statusLine(inv)),
						"color":  color,
					},
					{
						"type": "FactSet",
						"facts": []map[string]string{
							{"title": "Invocation", "value": inv.ID},
							{"title": "Status", "value": inv.Status},
							{"title": "Duration", "value": fmt.Sprintf("%dms", inv.ExecutionTimeMS)},
							{"title": "Trace", "value": inv.TraceID},
						},
					},
				},
			},
		}},
	}
	body, err := json.Marshal(card)
	return body, nil, err
}

// Discord embed colors as 24-bit RGB integers.
const (
	discordColorSuccess = 0x2EB886
	discordColorFailure = 0xA30200
)

type discordAdapter struct{}

func (discordAdapter) Platform() string { return invocation.PlatformDiscord }

func (discordAdapter) FormatPayload(_ *Subscription, agent *invocation.ExternalAgent, inv *invocation.Invocation) ([]byte, map[string]string, error) {
	color := discordColorSuccess
	if inv.Status != invocation.InvocationSuccess {
		color = discordColorFailure
	}
	// Discord caps embeds at 25 fields; we use four.
	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{{
			"title": fmt.Sprintf("Agent %s %s", agent.Name, statusLine(inv)),
			"color": color,
			"fields": []map[string]interface{}{
				{"name": "Invocation", "value": inv.ID, "inline": true},
				{"name": "Status", "value": inv.Status, "inline": true},
				{"name": "Duration", "value": fmt.Sprintf("%dms", inv.ExecutionTimeMS), "inline": true},
				{"name": "Trace", "value": inv.TraceID, "inline": false},
			},
		}},
	}
	body, err := json.Marshal(payload)
	return body, nil, err
}

type slackAdapter struct{}

func (slackAdapter) Platform() string { return invocation.PlatformSlack }

func (slackAdapter) FormatPayload(_ *Subscription, agent *invocation.ExternalAgent, inv *invocation.Invocation) ([]byte, map[string]string, error) {
	payload := map[string]interface{}{
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]interface{}{
					"type": "plain_text",
					"text": fmt.Sprintf("Agent %s %s", agent.Name, statusLine(inv)),
				},
			},
			{
				"type": "section",
				"fields": []map[string]interface{}{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Invocation:*\n%s", inv.ID)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Status:*\n%s", inv.Status)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Duration:*\n%dms", inv.ExecutionTimeMS)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Trace:*\n%s", inv.TraceID)},
				},
			},
			{"type": "divider"},
			{
				"type": "context",
				"elements": []map[string]interface{}{
					{"type": "mrkdwn", "text": fmt.Sprintf("org `%s`", inv.OrgID)},
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	return body, nil, err
}

// telegramSpecials are the characters MarkdownV2 requires escaping.
const telegramSpecials = "_*[]()~`>#+-=|{}.!"

// EscapeMarkdownV2 escapes Telegram MarkdownV2 special characters.
func EscapeMarkdownV2(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(telegramSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

type telegramAdapter struct{}

func (telegramAdapter) Platform() string { return invocation.PlatformTelegram }

func (telegramAdapter) FormatPayload(sub *Subscription, agent *invocation.ExternalAgent, inv *invocation.Invocation) ([]byte, map[string]string, error) {
	var cfg struct {
		ChatID string `json:"chat_id"`
	}
	if len(sub.Config) > 0 {
		_ = json.Unmarshal(sub.Config, &cfg)
	}

	text := fmt.Sprintf("*Agent %s %s*\nInvocation: %s\nDuration: %dms",
		EscapeMarkdownV2(agent.Name), statusLine(inv),
		EscapeMarkdownV2(inv.ID), inv.ExecutionTimeMS)

	payload := map[string]interface{}{
		"chat_id":    cfg.ChatID,
		"text":       text,
		"parse_mode": "MarkdownV2",
	}
	body, err := json.Marshal(payload)
	return body, nil, err
}

// notionVersion is the API version pinned for page creation.
const notionVersion = "2022-06-28"

type notionAdapter struct{}

func (notionAdapter) Platform() string { return invocation.PlatformNotion }

func (notionAdapter) FormatPayload(sub *Subscription, agent *invocation.ExternalAgent, inv *invocation.Invocation) ([]byte, map[string]string, error) {
	var cfg struct {
		DatabaseID string `json:"database_id"`
	}
	if len(sub.Config) > 0 {
		_ = json.Unmarshal(sub.Config, &cfg)
	}

	payload := map[string]interface{}{
		"parent": map[string]string{"database_id": cfg.DatabaseID},
		"properties": map[string]interface{}{
			"Name": map[string]interface{}{
				"title": []map[string]interface{}{
					{"text": map[string]string{"content": fmt.Sprintf("Agent %s %s", agent.Name, statusLine(inv))}},
				},
			},
			"Invocation": map[string]interface{}{
				"rich_text": []map[string]interface{}{
					{"text": map[string]string{"content": inv.ID}},
				},
			},
			"Status": map[string]interface{}{
				"select": map[string]string{"name": inv.Status},
			},
			"Duration": map[string]interface{}{
				"number": inv.ExecutionTimeMS,
			},
		},
	}
	body, err := json.Marshal(payload)
	headers := map[string]string{"Notion-Version": notionVersion}
	return body, headers, err
}

// customHTTPAdapter posts the raw event envelope.
type customHTTPAdapter struct{}

func (customHTTPAdapter) Platform() string { return invocation.PlatformCustomHTTP }

func (customHTTPAdapter) FormatPayload(_ *Subscription, agent *invocation.ExternalAgent, inv *invocation.Invocation) ([]byte, map[string]string, error) {
	payload := map[string]interface{}{
		"event":             eventFor(inv),
		"external_agent_id": agent.ID,
		"agent_name":        agent.Name,
		"invocation":        inv,
	}
	body, err := json.Marshal(payload)
	return body, nil, err
}

func eventFor(inv *invocation.Invocation) string {
	if inv.Status == invocation.InvocationSuccess {
		return EventInvocationCompleted
	}
	return EventInvocationFailed
}
