// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"hitl-agent/internal/agent/orchestrator"
)

const defaultAPIURL = "http://localhost:8080"

func apiBaseURL() string {
	if u := os.Getenv("HITL_API_URL"); u != "" {
		return u
	}
	return defaultAPIURL
}

// apiError 服务端统一错误体 {"error":{"code","message"},"status","version"}
type apiError struct {
	HTTPStatus int    `json:"-"`
	Detail     struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Status  string `json:"status,omitempty"`
	Version int64  `json:"version,omitempty"`
}

func (e *apiError) Error() string {
	if e.Detail.Code == "" {
		return fmt.Sprintf("HTTP %d", e.HTTPStatus)
	}
	return fmt.Sprintf("%s (HTTP %d): %s", e.Detail.Code, e.HTTPStatus, e.Detail.Message)
}

type client struct {
	rc *resty.Client
}

func newClient(baseURL, token string, transport http.RoundTripper) *client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(2 * time.Minute).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		rc.SetAuthToken(token)
	}
	if transport != nil {
		rc.SetTransport(transport)
	}
	return &client{rc: rc}
}

type decision struct {
	CallID          string         `json:"call_id"`
	Action          string         `json:"action"`
	EditedArguments map[string]any `json:"edited_arguments,omitempty"`
	FeedbackText    string         `json:"feedback_text,omitempty"`
}

type sessionList struct {
	UserID     string   `json:"user_id"`
	SessionIDs []string `json:"session_ids"`
}

type activeSession struct {
	UserID          string `json:"user_id"`
	ActiveSessionID string `json:"active_session_id"`
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	apiErr := &apiError{}
	req := c.rc.R().SetContext(ctx).SetError(apiErr)
	if out != nil {
		req.SetResult(out)
	}
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		apiErr.HTTPStatus = resp.StatusCode()
		return apiErr
	}
	return nil
}

func (c *client) invoke(ctx context.Context, userID, sessionID, query, system string) (*orchestrator.Result, error) {
	var out orchestrator.Result
	err := c.do(ctx, resty.MethodPost, "/agent/invoke", map[string]any{
		"user_id":        userID,
		"session_id":     sessionID,
		"query":          query,
		"system_message": system,
	}, &out)
	return &out, err
}

func (c *client) resume(ctx context.Context, userID, sessionID, interruptID string, decisions []decision) (*orchestrator.Result, error) {
	var out orchestrator.Result
	err := c.do(ctx, resty.MethodPost, "/agent/resume", map[string]any{
		"user_id":      userID,
		"session_id":   sessionID,
		"interrupt_id": interruptID,
		"decisions":    decisions,
	}, &out)
	return &out, err
}

func (c *client) status(ctx context.Context, userID, sessionID string, transcript bool) (*orchestrator.Summary, error) {
	var out orchestrator.Summary
	path := "/agent/status/" + url.PathEscape(userID) + "/" + url.PathEscape(sessionID)
	if transcript {
		path += "?transcript=true"
	}
	err := c.do(ctx, resty.MethodGet, path, nil, &out)
	return &out, err
}

func (c *client) sessions(ctx context.Context, userID string) (*sessionList, error) {
	var out sessionList
	err := c.do(ctx, resty.MethodGet, "/agent/sessionids/"+url.PathEscape(userID), nil, &out)
	return &out, err
}

func (c *client) active(ctx context.Context, userID string) (*activeSession, error) {
	var out activeSession
	err := c.do(ctx, resty.MethodGet, "/agent/active/sessionid/"+url.PathEscape(userID), nil, &out)
	return &out, err
}

func (c *client) deleteSession(ctx context.Context, userID, sessionID string) error {
	return c.do(ctx, resty.MethodDelete, "/agent/session/"+url.PathEscape(userID)+"/"+url.PathEscape(sessionID), nil, nil)
}

func (c *client) remember(ctx context.Context, userID, content, sessionID string) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, resty.MethodPost, "/agent/write/longterm", map[string]any{
		"user_id":    userID,
		"content":    content,
		"session_id": sessionID,
	}, &out)
	return out, err
}

func (c *client) info(ctx context.Context) (*orchestrator.SystemInfo, error) {
	var out orchestrator.SystemInfo
	err := c.do(ctx, resty.MethodGet, "/system/info", nil, &out)
	return &out, err
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
