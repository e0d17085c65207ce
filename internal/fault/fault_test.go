package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfThroughWrapChain(t *testing.T) {
	base := New(KindNotFound, "bot %q", "maya")
	wrapped := fmt.Errorf("dispatch: %w", base)

	if got := KindOf(wrapped); got != KindNotFound {
		t.Errorf("KindOf = %q, want %q", got, KindNotFound)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if err := Wrap(KindStoreWrite, nil, "save session"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindStoreWrite, cause, "append work log")

	if !errors.Is(err, cause) {
		t.Error("wrapped cause lost")
	}
	if KindOf(err) != KindStoreWrite {
		t.Errorf("kind = %q", KindOf(err))
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("plain"), 1},
		{New(KindToolExecution, "boom"), 1},
		{New(KindInputValidation, "bad flag"), 2},
		{New(KindNotFound, "no such room"), 3},
		{fmt.Errorf("outer: %w", New(KindNotFound, "no such bot")), 3},
	}
	for _, tc := range cases {
		if got := ExitCode(tc.err); got != tc.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
