package loadstate

import (
	"errors"
	"fmt"
	"testing"
)

var allSlots = []Slot{
	{Refresh, Local}, {Refresh, Remote},
	{Prepend, Local}, {Prepend, Remote},
	{Append, Local}, {Append, Remote},
}

// slotErr gives every slot a distinct cause so tests can tell them apart.
func slotErr(s Slot) error {
	return fmt.Errorf("%s.%s failed", s.Operation, s.Tier)
}

// enumerate calls fn for every one of the 3^6 combined states.
func enumerate(fn func(CombinedState)) {
	var rec func(i int, c CombinedState)
	rec = func(i int, c CombinedState) {
		if i == len(allSlots) {
			fn(c)
			return
		}
		s := allSlots[i]
		rec(i+1, c.With(s.Operation, s.Tier, NotLoading()))
		rec(i+1, c.With(s.Operation, s.Tier, Loading()))
		rec(i+1, c.With(s.Operation, s.Tier, Failed(slotErr(s))))
	}
	rec(0, CombinedState{})
}

func precedenceRank(s Slot) int {
	for i, p := range ErrorPrecedence {
		if p == s {
			return i
		}
	}
	return -1
}

func TestCombine_Exhaustive(t *testing.T) {
	count := 0
	enumerate(func(c CombinedState) {
		count++
		got := Combine(c)

		if c.Get(Refresh, Local).IsLoading() || c.Get(Refresh, Remote).IsLoading() {
			if !got.Loading() {
				t.Fatalf("refresh loading must dominate, got %v", got)
			}
			return
		}

		best := -1
		var bestSlot Slot
		for _, s := range allSlots {
			if !c.Get(s.Operation, s.Tier).IsError() {
				continue
			}
			if r := precedenceRank(s); best == -1 || r < best {
				best, bestSlot = r, s
			}
		}

		if best == -1 {
			if !got.Idle() {
				t.Fatalf("no errors and no refresh loading must be idle, got %v", got)
			}
			return
		}

		if !got.Failed() {
			t.Fatalf("expected error signal, got %v", got)
		}
		if got.Operation != bestSlot.Operation || got.Tier != bestSlot.Tier {
			t.Fatalf("surfaced %s.%s, want %s.%s", got.Operation, got.Tier, bestSlot.Operation, bestSlot.Tier)
		}
		if got.Err.Error() != slotErr(bestSlot).Error() {
			t.Fatalf("surfaced cause %v, want %v", got.Err, slotErr(bestSlot))
		}
	})

	if count != 729 {
		t.Errorf("enumerated %d states, want 729", count)
	}
}

func TestCombine_Precedence(t *testing.T) {
	tests := []struct {
		name    string
		errors  []Slot
		loading []Slot
		want    SignalKind
		wantOp  Operation
		wantTr  Tier
	}{
		{
			name: "empty state is idle",
			want: SignalIdle,
		},
		{
			name:    "refresh local loading",
			loading: []Slot{{Refresh, Local}},
			want:    SignalLoading,
		},
		{
			name:    "refresh remote loading beats every error",
			loading: []Slot{{Refresh, Remote}},
			errors:  []Slot{{Prepend, Local}, {Append, Remote}, {Refresh, Local}},
			want:    SignalLoading,
		},
		{
			name:    "append loading alone is idle",
			loading: []Slot{{Append, Local}, {Append, Remote}, {Prepend, Local}},
			want:    SignalIdle,
		},
		{
			name:   "prepend beats append",
			errors: []Slot{{Append, Local}, {Prepend, Remote}},
			want:   SignalError, wantOp: Prepend, wantTr: Remote,
		},
		{
			name:   "local beats remote for same operation",
			errors: []Slot{{Append, Remote}, {Append, Local}},
			want:   SignalError, wantOp: Append, wantTr: Local,
		},
		{
			name:   "edge error beats refresh error",
			errors: []Slot{{Refresh, Local}, {Append, Remote}},
			want:   SignalError, wantOp: Append, wantTr: Remote,
		},
		{
			name:   "refresh local beats refresh remote",
			errors: []Slot{{Refresh, Remote}, {Refresh, Local}},
			want:   SignalError, wantOp: Refresh, wantTr: Local,
		},
		{
			name:    "edge loading does not hide refresh error",
			errors:  []Slot{{Refresh, Remote}},
			loading: []Slot{{Append, Local}},
			want:    SignalError, wantOp: Refresh, wantTr: Remote,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c CombinedState
			for _, s := range tt.loading {
				c = c.With(s.Operation, s.Tier, Loading())
			}
			for _, s := range tt.errors {
				c = c.With(s.Operation, s.Tier, Failed(slotErr(s)))
			}

			got := Combine(c)
			if got.Kind != tt.want {
				t.Fatalf("Combine() kind = %v, want %v", got.Kind, tt.want)
			}
			if tt.want == SignalError && (got.Operation != tt.wantOp || got.Tier != tt.wantTr) {
				t.Errorf("Combine() = %s.%s, want %s.%s", got.Operation, got.Tier, tt.wantOp, tt.wantTr)
			}
		})
	}
}

func TestCombine_OrderIndependent(t *testing.T) {
	// Every double-error combination, applied in both orders, surfaces the same slot.
	for i, a := range allSlots {
		for j, b := range allSlots {
			if i == j {
				continue
			}
			forward := CombinedState{}.
				With(a.Operation, a.Tier, Failed(slotErr(a))).
				With(b.Operation, b.Tier, Failed(slotErr(b)))
			reverse := CombinedState{}.
				With(b.Operation, b.Tier, Failed(slotErr(b))).
				With(a.Operation, a.Tier, Failed(slotErr(a)))

			f, r := Combine(forward), Combine(reverse)
			if f.Operation != r.Operation || f.Tier != r.Tier {
				t.Errorf("%v+%v: order dependent result %v vs %v", a, b, f, r)
			}

			want := a
			if precedenceRank(b) < precedenceRank(a) {
				want = b
			}
			if f.Operation != want.Operation || f.Tier != want.Tier {
				t.Errorf("%v+%v: surfaced %s.%s, want %s.%s", a, b, f.Operation, f.Tier, want.Operation, want.Tier)
			}
		}
	}
}

func TestCombine_Pure(t *testing.T) {
	c := CombinedState{}.
		With(Append, Remote, Failed(errors.New("boom"))).
		With(Prepend, Local, Loading())

	first := Combine(c)
	for i := 0; i < 10; i++ {
		if got := Combine(c); got != first {
			t.Fatalf("Combine() not deterministic: %v vs %v", got, first)
		}
	}
}

func TestErrorPrecedence_CoversEverySlot(t *testing.T) {
	if len(ErrorPrecedence) != len(allSlots) {
		t.Fatalf("precedence has %d slots, want %d", len(ErrorPrecedence), len(allSlots))
	}
	for _, s := range allSlots {
		if precedenceRank(s) < 0 {
			t.Errorf("slot %v missing from precedence", s)
		}
	}
}
