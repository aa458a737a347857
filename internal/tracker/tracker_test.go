package tracker

import (
	"testing"

	"github.com/V4T54L/msgtap/internal/domain"
)

func TestObserve(t *testing.T) {
	tests := []struct {
		name    string
		history [][]string // read lists of successive observations
		want    []Transition
	}{
		{
			name:    "first sight is new",
			history: [][]string{nil},
			want:    []Transition{{IsNew: true}},
		},
		{
			name:    "unchanged message yields nothing",
			history: [][]string{nil, nil},
			want:    []Transition{{IsNew: true}, {}},
		},
		{
			name:    "read receipt reported once with last reader",
			history: [][]string{nil, {"bob", "carol"}, {"bob", "carol", "dave"}},
			want: []Transition{
				{IsNew: true},
				{ReadReceiptAdded: true, NewReader: "carol"},
				{},
			},
		},
		{
			name:    "already read on first sight never reports a receipt",
			history: [][]string{{"bob"}, {"bob", "carol"}},
			want:    []Transition{{IsNew: true}, {}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			key := Key("c1", "m1")
			for i, readBy := range tt.history {
				got := tr.Observe(key, domain.Message{ID: "m1", ReadBy: readBy})
				if got != tt.want[i] {
					t.Errorf("observation %d: got %+v, want %+v", i, got, tt.want[i])
				}
			}
		})
	}
}

func TestObserveStoresCopy(t *testing.T) {
	tr := New()
	readBy := make([]string, 0, 4)
	msg := domain.Message{ID: "m1", ReadBy: readBy}
	tr.Observe("k", msg)

	// Mutating the caller's backing array must not leak into the snapshot.
	msg.ReadBy = append(msg.ReadBy, "bob")
	got := tr.Observe("k", msg)
	if !got.ReadReceiptAdded || got.NewReader != "bob" {
		t.Fatalf("got %+v, want read receipt from bob", got)
	}
}

func TestSweepAndReset(t *testing.T) {
	tr := New()
	tr.Observe("a", domain.Message{ID: "a"})
	tr.Observe("b", domain.Message{ID: "b"})
	tr.Observe("c", domain.Message{ID: "c"})

	removed := tr.Sweep(map[string]struct{}{"b": {}})
	if removed != 2 || tr.Len() != 1 {
		t.Fatalf("sweep removed %d, len %d; want 2 and 1", removed, tr.Len())
	}
	if got := tr.Observe("a", domain.Message{ID: "a"}); !got.IsNew {
		t.Error("swept key should be new again")
	}

	tr.Reset()
	if tr.Len() != 0 {
		t.Fatalf("len after reset = %d", tr.Len())
	}
}
