package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"hitl-agent/internal/agent/review"
	"hitl-agent/internal/runtime/session"
)

// 随机操作序列
const (
	opInvokeReview = iota
	opInvokeFinal
	opInvokeTwoCalls
	opAcceptAll
	opRejectAll
	opPartial
	opUnknownCall
	opReplay
	opStatus
	opDelete
	opCount
)

func applyOp(ctx context.Context, h *harness, op int) error {
	const u, sid = "u1", "s1"
	cur, _ := h.store.Load(ctx, u, sid)
	pending := func() *session.PendingInterrupt {
		if cur == nil {
			return nil
		}
		return cur.PendingInterrupt
	}()
	switch op {
	case opInvokeReview:
		_, err := h.svc.Invoke(ctx, InvokeRequest{UserID: u, SessionID: sid, Query: "What's 5*3"})
		return err
	case opInvokeFinal:
		_, err := h.svc.Invoke(ctx, InvokeRequest{UserID: u, SessionID: sid, Query: "hello"})
		return err
	case opInvokeTwoCalls:
		_, err := h.svc.Invoke(ctx, InvokeRequest{UserID: u, SessionID: sid, Query: "2+2 and 3*3"})
		return err
	case opAcceptAll, opRejectAll, opPartial:
		var batch []review.Decision
		if pending != nil {
			for _, c := range pending.AwaitingDecision() {
				if op == opRejectAll {
					batch = append(batch, review.Reject{CallID: c.Proposal.CallID, Feedback: "no"})
				} else {
					batch = append(batch, review.Accept{CallID: c.Proposal.CallID})
				}
			}
			if op == opPartial && len(batch) > 1 {
				batch = batch[:1]
			}
		}
		if len(batch) == 0 {
			batch = []review.Decision{review.Accept{CallID: "call_missing"}}
		}
		_, err := h.svc.Resume(ctx, ResumeRequest{UserID: u, SessionID: sid, Decisions: batch})
		return err
	case opUnknownCall:
		_, err := h.svc.Resume(ctx, ResumeRequest{UserID: u, SessionID: sid, Decisions: []review.Decision{review.Accept{CallID: "call_unknown"}}})
		return err
	case opReplay:
		id := ""
		if cur != nil {
			id = cur.LastInterruptID
		}
		_, err := h.svc.Resume(ctx, ResumeRequest{UserID: u, SessionID: sid, InterruptID: id, Decisions: []review.Decision{review.Accept{CallID: "call_unknown"}}})
		return err
	case opStatus:
		_, err := h.svc.Status(ctx, u, sid, true)
		return err
	case opDelete:
		return h.svc.DeleteSession(ctx, u, sid)
	}
	return fmt.Errorf("unknown op %d", op)
}

func TestPendingIffAwaitingReviewProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("pending interrupt present iff AWAITING_REVIEW; failed ops never bump version", prop.ForAll(
		func(ops []int) bool {
			h := newHarness(t, harnessOptions{})
			ctx := context.Background()
			var prev int64
			for _, op := range ops {
				err := applyOp(ctx, h, op)
				cur, lerr := h.store.Load(ctx, "u1", "s1")
				if lerr != nil {
					if !errors.Is(lerr, session.ErrNotFound) {
						return false
					}
					prev = 0
					continue
				}
				if (cur.PendingInterrupt != nil) != (cur.Status == session.StatusAwaitingReview) {
					t.Logf("op %d: status=%s pending=%v", op, cur.Status, cur.PendingInterrupt != nil)
					return false
				}
				if cur.Validate() != nil || cur.Status == session.StatusActive {
					return false
				}
				switch {
				case err != nil && cur.Version != prev:
					t.Logf("op %d failed (%v) but version moved %d -> %d", op, err, prev, cur.Version)
					return false
				case err == nil && cur.Version < prev:
					return false
				}
				prev = cur.Version
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, opCount-1)),
	))

	properties.TestingRun(t)
}
