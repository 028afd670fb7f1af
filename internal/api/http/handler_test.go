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

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hitl-agent/internal/agent/memory"
	"hitl-agent/internal/agent/orchestrator"
	"hitl-agent/internal/agent/review"
	"hitl-agent/internal/agent/turn"
	"hitl-agent/internal/api/http/middleware"
	"hitl-agent/internal/runtime/session"
	"hitl-agent/internal/tool/builtin"
	"hitl-agent/internal/tool/registry"
)

func newService(t *testing.T) *orchestrator.Service {
	t.Helper()
	store := session.NewMemoryStore(time.Hour)
	mgr := session.NewManager(store, time.Hour)
	reg := registry.New()
	require.NoError(t, builtin.RegisterAll(context.Background(), reg))
	policy, err := review.NewStaticPolicy("AUTO", map[string]string{"calculator": "REQUIRE_APPROVAL"})
	require.NoError(t, err)
	executor := turn.NewExecutor(turn.NewRuleModel(), reg)
	return orchestrator.New(mgr, memory.NewMemStore(), executor, review.NewGate(policy), reg,
		orchestrator.Config{MaxTurns: 10, RunLease: time.Minute}, nil)
}

func newTestServer(t *testing.T) *server.Hertz {
	t.Helper()
	r := NewRouter(NewHandler(newService(t)), middleware.NewMiddleware(nil))
	return r.Build(":0")
}

func doJSON(h *server.Hertz, method, path string, body any, headers ...ut.Header) (int, []byte) {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	headers = append(headers, ut.Header{Key: "Content-Type", Value: "application/json"})
	w := ut.PerformRequest(h.Engine, method, path, &ut.Body{Body: bytes.NewReader(b), Len: len(b)}, headers...)
	resp := w.Result()
	return resp.StatusCode(), resp.Body()
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), "body: %s", body)
	return v
}

func TestHealthCheck(t *testing.T) {
	h := newTestServer(t)
	code, body := doJSON(h, "GET", "/api/health", nil)
	assert.Equal(t, 200, code)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestInvokeAndResume_AcceptFlow(t *testing.T) {
	h := newTestServer(t)

	code, body := doJSON(h, "POST", "/agent/invoke", map[string]any{
		"user_id": "u1", "session_id": "s1", "query": "What is 5*3?",
	})
	require.Equal(t, 200, code, "body: %s", body)
	res := decode[orchestrator.Result](t, body)
	require.Equal(t, session.StatusAwaitingReview, res.Status)
	require.NotNil(t, res.PendingReview)
	pending := res.PendingReview.AwaitingDecision()
	require.Len(t, pending, 1)
	assert.Equal(t, "calculator", pending[0].Proposal.ToolName)

	code, body = doJSON(h, "POST", "/agent/resume", map[string]any{
		"user_id":      "u1",
		"session_id":   "s1",
		"interrupt_id": res.PendingReview.ID,
		"decisions": []map[string]any{
			{"call_id": pending[0].Proposal.CallID, "action": "accept"},
		},
	})
	require.Equal(t, 200, code, "body: %s", body)
	done := decode[orchestrator.Result](t, body)
	assert.Equal(t, session.StatusDone, done.Status)
	require.NotNil(t, done.AssistantMessage)
	assert.Contains(t, done.AssistantMessage.Content, "15")
	assert.Nil(t, done.PendingReview)
	assert.Greater(t, done.Version, res.Version)

	// 相同 interrupt_id 的重复提交按重放处理
	code, body = doJSON(h, "POST", "/agent/resume", map[string]any{
		"user_id":      "u1",
		"session_id":   "s1",
		"interrupt_id": res.PendingReview.ID,
		"decisions": []map[string]any{
			{"call_id": pending[0].Proposal.CallID, "action": "accept"},
		},
	})
	require.Equal(t, 200, code, "body: %s", body)
	replay := decode[orchestrator.Result](t, body)
	assert.True(t, replay.Replayed)
	assert.Equal(t, done.Version, replay.Version)
}

func TestInvoke_Validation(t *testing.T) {
	h := newTestServer(t)

	code, body := doJSON(h, "POST", "/agent/invoke", map[string]any{"user_id": "u1", "session_id": "s1"})
	assert.Equal(t, 400, code)
	assert.Contains(t, string(body), `"code":"VALIDATION_ERROR"`)

	w := ut.PerformRequest(h.Engine, "POST", "/agent/invoke", &ut.Body{Body: bytes.NewReader([]byte("{")), Len: 1},
		ut.Header{Key: "Content-Type", Value: "application/json"})
	assert.Equal(t, 400, w.Result().StatusCode())
}

func TestInvoke_PendingReviewConflict(t *testing.T) {
	h := newTestServer(t)
	req := map[string]any{"user_id": "u1", "session_id": "s1", "query": "What is 2+2?"}
	code, body := doJSON(h, "POST", "/agent/invoke", req)
	require.Equal(t, 200, code)
	first := decode[orchestrator.Result](t, body)

	// 同一问题重试返回同一个待审核中断
	code, body = doJSON(h, "POST", "/agent/invoke", req)
	require.Equal(t, 200, code)
	retry := decode[orchestrator.Result](t, body)
	assert.True(t, retry.Replayed)
	assert.Equal(t, first.PendingReview.ID, retry.PendingReview.ID)
	assert.Equal(t, first.Version, retry.Version)

	req["query"] = "What is 3+3?"
	code, body = doJSON(h, "POST", "/agent/invoke", req)
	assert.Equal(t, 409, code)
	eb := decode[errorBody](t, body)
	assert.Equal(t, "PENDING_REVIEW", eb.Error.Code)
	assert.Equal(t, string(session.StatusAwaitingReview), eb.Status)
	assert.NotZero(t, eb.Version)
}

func TestResume_Errors(t *testing.T) {
	h := newTestServer(t)

	code, body := doJSON(h, "POST", "/agent/resume", map[string]any{
		"user_id": "u1", "session_id": "missing",
		"decisions": []map[string]any{{"call_id": "c1", "action": "accept"}},
	})
	assert.Equal(t, 404, code, "body: %s", body)

	code, body = doJSON(h, "POST", "/agent/invoke", map[string]any{"user_id": "u1", "session_id": "s1", "query": "What is 7-2?"})
	require.Equal(t, 200, code)
	res := decode[orchestrator.Result](t, body)

	code, body = doJSON(h, "POST", "/agent/resume", map[string]any{
		"user_id": "u1", "session_id": "s1",
		"decisions": []map[string]any{{"call_id": "call_unknown", "action": "accept"}},
	})
	assert.Equal(t, 409, code)
	eb := decode[errorBody](t, body)
	assert.Equal(t, "STALE_INTERRUPT", eb.Error.Code)
	assert.Equal(t, res.Version, eb.Version)

	callID := res.PendingReview.AwaitingDecision()[0].Proposal.CallID
	code, body = doJSON(h, "POST", "/agent/resume", map[string]any{
		"user_id": "u1", "session_id": "s1",
		"decisions": []map[string]any{{"call_id": callID, "action": "approve"}},
	})
	assert.Equal(t, 400, code, "body: %s", body)

	code, _ = doJSON(h, "POST", "/agent/resume", map[string]any{
		"user_id": "u1", "session_id": "s1",
		"decisions": []map[string]any{{"call_id": callID, "action": "edit"}},
	})
	assert.Equal(t, 400, code)

	code, body = doJSON(h, "POST", "/agent/resume", map[string]any{
		"user_id": "u1", "session_id": "s1", "expected_version": res.Version + 7,
		"decisions": []map[string]any{{"call_id": callID, "action": "accept"}},
	})
	assert.Equal(t, 409, code)
	assert.Contains(t, string(body), `"code":"CONCURRENT_MODIFICATION"`)

	code, body = doJSON(h, "GET", "/agent/status/u1/s1", nil)
	require.Equal(t, 200, code)
	sum := decode[orchestrator.Summary](t, body)
	assert.Equal(t, res.Version, sum.Version)
	assert.Equal(t, session.StatusAwaitingReview, sum.Status)
}

func TestResume_RejectWithFeedback(t *testing.T) {
	h := newTestServer(t)
	code, body := doJSON(h, "POST", "/agent/invoke", map[string]any{"user_id": "u1", "session_id": "s1", "query": "What is 9/3?"})
	require.Equal(t, 200, code)
	res := decode[orchestrator.Result](t, body)
	callID := res.PendingReview.AwaitingDecision()[0].Proposal.CallID

	code, body = doJSON(h, "POST", "/agent/resume", map[string]any{
		"user_id": "u1", "session_id": "s1",
		"decisions": []map[string]any{{"call_id": callID, "action": "reject", "feedback_text": "not now"}},
	})
	require.Equal(t, 200, code, "body: %s", body)
	done := decode[orchestrator.Result](t, body)
	assert.Equal(t, session.StatusDone, done.Status)
	assert.Contains(t, done.AssistantMessage.Content, "not now")
}

func TestSessionQueries(t *testing.T) {
	h := newTestServer(t)

	code, body := doJSON(h, "GET", "/agent/status/u1/nope", nil)
	assert.Equal(t, 404, code)
	assert.Contains(t, string(body), `"code":"NOT_FOUND"`)

	code, body = doJSON(h, "GET", "/agent/sessionids/u1", nil)
	require.Equal(t, 200, code)
	assert.Contains(t, string(body), `"session_ids":[]`)

	code, body = doJSON(h, "GET", "/agent/active/sessionid/u1", nil)
	require.Equal(t, 200, code)
	assert.Contains(t, string(body), `"active_session_id":""`)

	code, _ = doJSON(h, "POST", "/agent/invoke", map[string]any{"user_id": "u1", "session_id": "s1", "query": "hello"})
	require.Equal(t, 200, code)
	code, _ = doJSON(h, "POST", "/agent/invoke", map[string]any{"user_id": "u1", "session_id": "s2", "query": "What is 1+1?"})
	require.Equal(t, 200, code)

	code, body = doJSON(h, "GET", "/agent/sessionids/u1", nil)
	require.Equal(t, 200, code)
	ids := decode[struct {
		SessionIDs []string `json:"session_ids"`
	}](t, body)
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids.SessionIDs)

	code, body = doJSON(h, "GET", "/agent/active/sessionid/u1", nil)
	require.Equal(t, 200, code)
	assert.Contains(t, string(body), `"active_session_id":"s2"`)

	code, body = doJSON(h, "GET", "/agent/status/u1/s1?transcript=true", nil)
	require.Equal(t, 200, code)
	sum := decode[orchestrator.Summary](t, body)
	assert.Equal(t, session.StatusDone, sum.Status)
	assert.Len(t, sum.Transcript, sum.TranscriptLength)

	code, body = doJSON(h, "GET", "/system/info", nil)
	require.Equal(t, 200, code)
	info := decode[orchestrator.SystemInfo](t, body)
	assert.Equal(t, 2, info.SessionCount)
	assert.Equal(t, turn.RuleModelName, info.Model)

	code, _ = doJSON(h, "DELETE", "/agent/session/u1/s1", nil)
	assert.Equal(t, 200, code)
	code, _ = doJSON(h, "GET", "/agent/status/u1/s1", nil)
	assert.Equal(t, 404, code)
}

func TestWriteMemory(t *testing.T) {
	h := newTestServer(t)
	code, body := doJSON(h, "POST", "/agent/write/longterm", map[string]any{"user_id": "u1", "content": "I prefer window seats"})
	require.Equal(t, 200, code, "body: %s", body)
	rec := decode[memory.Record](t, body)
	assert.Equal(t, "u1", rec.UserID)
	assert.NotEmpty(t, rec.RecordID)

	code, _ = doJSON(h, "POST", "/agent/write/longterm", map[string]any{"user_id": "u1", "content": ""})
	assert.Equal(t, 400, code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t)
	code, _ := doJSON(h, "POST", "/agent/invoke", map[string]any{"user_id": "u1", "session_id": "s1", "query": "hi"})
	require.Equal(t, 200, code)
	code, body := doJSON(h, "GET", "/metrics", nil)
	assert.Equal(t, 200, code)
	assert.Contains(t, string(body), "hitl_run_total")
}
