package otel

import "testing"

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer(4)
	for i := 0; i < 6; i++ {
		rb.Push(Event{Kind: KindFetchStart, Offset: i})
	}

	if rb.Len() != 4 {
		t.Errorf("Len = %d, want 4", rb.Len())
	}
	got := rb.Snapshot()
	if got[0].Offset != 2 || got[3].Offset != 5 {
		t.Errorf("snapshot offsets = %d..%d, want 2..5", got[0].Offset, got[3].Offset)
	}
}

func TestRingBufferTail(t *testing.T) {
	rb := NewRingBuffer(8)
	for i := 0; i < 5; i++ {
		rb.Push(Event{Kind: KindFetchStart, Offset: i})
	}

	got := rb.Tail(2)
	if len(got) != 2 || got[0].Offset != 3 || got[1].Offset != 4 {
		t.Errorf("Tail(2) = %+v", got)
	}
	if got := rb.Tail(100); len(got) != 5 {
		t.Errorf("Tail(100) = %d events, want all 5", len(got))
	}
	if rb.Tail(0) != nil {
		t.Error("Tail(0) should be nil")
	}
}

func TestRingBufferTailOfKind(t *testing.T) {
	rb := NewRingBuffer(4)
	rb.Push(Event{Kind: KindFetchError, Offset: 0})
	rb.Push(Event{Kind: KindFetchComplete, Offset: 1})
	rb.Push(Event{Kind: KindFetchError, Offset: 2})
	rb.Push(Event{Kind: KindFetchError, Offset: 3})
	rb.Push(Event{Kind: KindFetchComplete, Offset: 4}) // evicts offset 0

	got := rb.TailOfKind(KindFetchError, 2)
	if len(got) != 2 || got[0].Offset != 2 || got[1].Offset != 3 {
		t.Errorf("TailOfKind = %+v", got)
	}
	if got := rb.TailOfKind(KindHealthSweep, 5); got != nil {
		t.Errorf("TailOfKind for absent kind = %+v, want nil", got)
	}
}

func TestRingBufferLastOfKind(t *testing.T) {
	rb := NewRingBuffer(8)
	rb.Push(Event{Kind: KindFetchComplete, Offset: 1})
	rb.Push(Event{Kind: KindHealthFallback, Offset: 2})
	rb.Push(Event{Kind: KindFetchComplete, Offset: 3})

	e, ok := rb.LastOfKind(KindFetchComplete)
	if !ok || e.Offset != 3 {
		t.Errorf("LastOfKind = %+v ok=%v", e, ok)
	}
	if _, ok := rb.LastOfKind(KindFetchTimeout); ok {
		t.Error("LastOfKind found an event never pushed")
	}
}

func TestRingBufferCountByKind(t *testing.T) {
	rb := NewRingBuffer(8)
	rb.Push(Event{Kind: KindFetchComplete})
	rb.Push(Event{Kind: KindFetchComplete})
	rb.Push(Event{Kind: KindHealthFallback})

	counts := rb.CountByKind()
	if counts[KindFetchComplete] != 2 || counts[KindHealthFallback] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
