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

package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap(nil, "msg") != nil {
		t.Error("Wrap(nil, msg) should return nil")
	}
	err := errors.New("base")
	wrapped := Wrap(err, "context")
	if wrapped == nil {
		t.Fatal("Wrap(err, msg) should not return nil")
	}
	if !errors.Is(wrapped, err) {
		t.Error("wrapped error should unwrap to base")
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "format %s", "x") != nil {
		t.Error("Wrapf(nil, ...) should return nil")
	}
	err := errors.New("base")
	wrapped := Wrapf(err, "id=%s", "a")
	if !errors.Is(wrapped, err) {
		t.Error("wrapped error should unwrap to base")
	}
}

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("bad input: %w", ErrValidation), CodeValidation},
		{ErrIncompleteBatch, CodeIncompleteBatch},
		{ErrNotFound, CodeNotFound},
		{fmt.Errorf("load: %w", ErrSessionExpired), CodeSessionExpired},
		{ErrStaleInterrupt, CodeStaleInterrupt},
		{ErrRunInProgress, CodeRunInProgress},
		{ErrConcurrentModification, CodeConcurrentModification},
		{ErrPendingReview, CodePendingReview},
		{ErrTurnLimitExceeded, CodeTurnLimitExceeded},
		{ErrExecutionTimeout, CodeExecutionTimeout},
		{errors.New("boom"), CodeInternal},
	}
	for _, c := range cases {
		if got := Code(c.err); got != c.want {
			t.Errorf("Code(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestRunInProgressIsConcurrentModification(t *testing.T) {
	if !errors.Is(ErrRunInProgress, ErrConcurrentModification) {
		t.Error("ErrRunInProgress should be Is ErrConcurrentModification")
	}
	if !errors.Is(ErrIncompleteBatch, ErrValidation) {
		t.Error("ErrIncompleteBatch should be Is ErrValidation")
	}
}

func TestWithState(t *testing.T) {
	if WithState(nil, "DONE", 1) != nil {
		t.Error("WithState(nil) should return nil")
	}
	err := WithState(ErrStaleInterrupt, "AWAITING_REVIEW", 3)
	if !errors.Is(err, ErrStaleInterrupt) {
		t.Error("state error should unwrap to sentinel")
	}
	status, version, ok := StateOf(fmt.Errorf("resume: %w", err))
	if !ok || status != "AWAITING_REVIEW" || version != 3 {
		t.Errorf("StateOf: got %q %d %v", status, version, ok)
	}
	if _, _, ok := StateOf(errors.New("plain")); ok {
		t.Error("plain error should carry no state")
	}
}
