package future

import (
	stderrors "errors"
	"testing"

	"github.com/wippyai/wasm-fiber/errors"
)

func TestPoll(t *testing.T) {
	boom := stderrors.New("boom")
	tests := []struct {
		name     string
		src      Source
		notReady int
		value    uint64
		err      error
	}{
		{name: "resolved", src: Resolved(7), value: 7},
		{name: "rejected", src: Rejected(boom), err: boom},
		{name: "after two polls", src: After(2, 9), notReady: 2, value: 9},
		{name: "fails later", src: FailAfter(1, boom), notReady: 1, err: boom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Adapt(tt.src)
			for i := 0; i < tt.notReady; i++ {
				if r := h.Poll(); r.IsReady() {
					t.Fatalf("poll %d: ready too early", i)
				}
			}
			r := h.Poll()
			if !r.IsReady() {
				t.Fatal("expected ready")
			}
			if tt.err != nil {
				if !stderrors.Is(r.Err, tt.err) {
					t.Errorf("Err = %v, want %v", r.Err, tt.err)
				}
				return
			}
			if r.Err != nil {
				t.Fatalf("unexpected error: %v", r.Err)
			}
			if r.Value != tt.value {
				t.Errorf("Value = %d, want %d", r.Value, tt.value)
			}
			if h.Polls() != tt.notReady+1 {
				t.Errorf("Polls() = %d, want %d", h.Polls(), tt.notReady+1)
			}
		})
	}
}

func TestPollAfterReady(t *testing.T) {
	h := Adapt(Resolved(1))
	if r := h.Poll(); !r.IsReady() || r.Err != nil {
		t.Fatalf("first poll = %+v", r)
	}
	if !h.Consumed() {
		t.Error("handle should be consumed")
	}
	r := h.Poll()
	if !r.IsReady() {
		t.Error("poll after ready should still report ready")
	}
	if !errors.Is(r.Err, errors.ErrInvalidState) {
		t.Errorf("Err = %v, want invalid state", r.Err)
	}
	if h.Polls() != 1 {
		t.Errorf("violating poll touched the source: Polls() = %d", h.Polls())
	}
}

type failedNoErr struct{}

func (failedNoErr) Available() bool      { return true }
func (failedNoErr) Failed() bool         { return true }
func (failedNoErr) Get() (uint64, error) { return 0, nil }

func TestFailedWithoutError(t *testing.T) {
	r := Adapt(failedNoErr{}).Poll()
	if !errors.Is(r.Err, errors.ErrHostFailure) {
		t.Errorf("Err = %v, want host failure", r.Err)
	}
}

type callbackSource struct{ value }

func (callbackSource) Then(func()) {}

func TestNotifies(t *testing.T) {
	tests := []struct {
		name string
		src  Source
		want bool
	}{
		{"resolved", Resolved(1), false},
		{"deferred", After(3, 1), false},
		{"callback", callbackSource{value{v: 1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Adapt(tt.src).Notifies(); got != tt.want {
				t.Errorf("Notifies() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if NotReady.String() != "not_ready" || Ready.String() != "ready" {
		t.Errorf("unexpected names %q %q", NotReady, Ready)
	}
}
