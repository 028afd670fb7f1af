package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{"", StatusActive},
		{StatusActive, StatusAwaitingReview},
		{StatusActive, StatusDone},
		{StatusActive, StatusFailed},
		{StatusAwaitingReview, StatusActive},
		{StatusDone, StatusActive},
		{StatusFailed, StatusActive},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%q -> %q", tr[0], tr[1])
	}
	denied := [][2]Status{
		{"", StatusDone},
		{"", StatusAwaitingReview},
		{StatusAwaitingReview, StatusDone},
		{StatusAwaitingReview, StatusFailed},
		{StatusDone, StatusFailed},
		{StatusDone, StatusAwaitingReview},
		{StatusActive, StatusExpired},
	}
	for _, tr := range denied {
		assert.False(t, CanTransition(tr[0], tr[1]), "%q -> %q", tr[0], tr[1])
	}
}

func TestSession_SuspendAndResumeKeepInvariant(t *testing.T) {
	s := New("u1", "s1", time.Hour, t0)
	require.NoError(t, s.Transition(StatusActive))
	require.NoError(t, s.Validate())

	pi := &PendingInterrupt{ID: "i1", Calls: []PendingCall{{
		Proposal: ToolCallProposal{CallID: "c1", ToolName: "calculator"},
		Policy:   PolicyRequireApproval,
	}}}
	require.NoError(t, s.Suspend(pi))
	require.NoError(t, s.Validate())
	assert.Equal(t, StatusAwaitingReview, s.Status)

	require.NoError(t, s.Transition(StatusActive))
	assert.Nil(t, s.PendingInterrupt)
	require.NoError(t, s.Validate())

	err := s.Suspend(&PendingInterrupt{ID: "empty"})
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestSession_IllegalTransition(t *testing.T) {
	s := New("u1", "s1", time.Hour, t0)
	err := s.Transition(StatusDone)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIllegalTransition))
	assert.Contains(t, err.Error(), "NEW -> DONE")
}

func TestSession_FailRecordsReasonAndClearsOnNextRun(t *testing.T) {
	s := New("u1", "s1", time.Hour, t0)
	require.NoError(t, s.Transition(StatusActive))
	require.NoError(t, s.Fail("TURN_LIMIT_EXCEEDED", "too many turns"))
	require.NotNil(t, s.Failure)
	assert.Equal(t, "TURN_LIMIT_EXCEEDED", s.Failure.Code)

	require.NoError(t, s.Transition(StatusActive))
	assert.Nil(t, s.Failure)
}

func TestSession_ValidateDetectsPendingMismatch(t *testing.T) {
	s := New("u1", "s1", time.Hour, t0)
	s.Status = StatusDone
	s.PendingInterrupt = &PendingInterrupt{ID: "x", Calls: []PendingCall{{}}}
	assert.ErrorIs(t, s.Validate(), ErrInvariant)

	s.Status = StatusAwaitingReview
	s.PendingInterrupt = nil
	assert.ErrorIs(t, s.Validate(), ErrInvariant)

	s.Status = ""
	assert.ErrorIs(t, s.Validate(), ErrInvariant)
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := New("u1", "s1", time.Hour, t0)
	require.NoError(t, s.Transition(StatusActive))
	s.Append(Message{Role: RoleAssistant, ToolCalls: []ToolCallProposal{{
		CallID: "c1", ToolName: "book_hotel",
		Arguments: map[string]any{"hotel": "A", "nested": map[string]any{"n": 1.0}, "list": []any{"x"}},
	}}})
	lease := t0.Add(time.Minute)
	s.LeaseUntil = &lease

	c := s.Clone()
	c.Transcript[0].ToolCalls[0].Arguments["hotel"] = "B"
	c.Transcript[0].ToolCalls[0].Arguments["nested"].(map[string]any)["n"] = 2.0
	c.Transcript[0].ToolCalls[0].Arguments["list"].([]any)[0] = "y"
	*c.LeaseUntil = t0

	args := s.Transcript[0].ToolCalls[0].Arguments
	assert.Equal(t, "A", args["hotel"])
	assert.Equal(t, 1.0, args["nested"].(map[string]any)["n"])
	assert.Equal(t, "x", args["list"].([]any)[0])
	assert.Equal(t, lease, *s.LeaseUntil)
}

func TestSession_UnansweredCalls(t *testing.T) {
	s := New("u1", "s1", time.Hour, t0)
	assert.Empty(t, s.UnansweredCalls())

	c1 := ToolCallProposal{CallID: "c1", ToolName: "add"}
	c2 := ToolCallProposal{CallID: "c2", ToolName: "book_hotel"}
	s.Append(
		UserMessage("hi", t0),
		Message{Role: RoleAssistant, ToolCalls: []ToolCallProposal{c1, c2}},
		ToolMessage(c1, "3", ResolutionAuto, false, t0),
	)
	got := s.UnansweredCalls()
	require.Len(t, got, 1)
	assert.Equal(t, "c2", got[0].CallID)
}

func TestPendingInterrupt_AwaitingDecision(t *testing.T) {
	pi := &PendingInterrupt{Calls: []PendingCall{
		{Proposal: ToolCallProposal{CallID: "a"}, Policy: PolicyAuto, Executed: true},
		{Proposal: ToolCallProposal{CallID: "b"}, Policy: PolicyRequireApproval},
		{Proposal: ToolCallProposal{CallID: "c"}, Policy: PolicyRequireApproval},
	}}
	got := pi.AwaitingDecision()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Proposal.CallID)
	_, ok := pi.Find("a")
	assert.True(t, ok)
	_, ok = pi.Find("zz")
	assert.False(t, ok)
	var nilPI *PendingInterrupt
	assert.Empty(t, nilPI.AwaitingDecision())
}
