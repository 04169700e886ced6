package service

import (
	"context"
	"testing"
	"time"

	"github.com/rushteam/reminsight/core"
	"github.com/rushteam/reminsight/pkg/logger"
	"github.com/rushteam/reminsight/store"
)

func TestHistory_RecordListTrim(t *testing.T) {
	mem := store.NewMemoryStore()
	defer mem.Close()
	h := NewHistory(mem, WithHistoryMaxEntries(3), WithHistoryLogger(logger.Nop()))
	clock := time.Unix(1700000000, 0)
	h.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	ctx := context.Background()

	for i := range 5 {
		r := core.PredictionResult{Prediction: i % 2, Version: "v1", Probabilities: []float64{0.4, 0.6}}
		if err := h.Record(ctx, "s-1", r); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := h.List(ctx, "s-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	// 最新的在前：第 5 次记录 prediction = 0
	if entries[0].Prediction != 0 || !entries[0].CreatedAt.After(entries[1].CreatedAt) {
		t.Errorf("order = %+v", entries)
	}

	last, err := h.Last(ctx, "s-1")
	if err != nil {
		t.Fatal(err)
	}
	if last.CreatedAt != entries[0].CreatedAt || last.Prediction != entries[0].Prediction {
		t.Errorf("last = %+v, want %+v", last, entries[0])
	}

	limited, _ := h.List(ctx, "s-1", 1)
	if len(limited) != 1 || limited[0].CreatedAt != entries[0].CreatedAt {
		t.Errorf("limited = %+v", limited)
	}

	if err := h.Clear(ctx, "s-1"); err != nil {
		t.Fatal(err)
	}
	if entries, _ := h.List(ctx, "s-1", 0); len(entries) != 0 {
		t.Errorf("after clear = %+v", entries)
	}
	if _, err := h.Last(ctx, "s-1"); !core.IsNotFound(err) {
		t.Errorf("last after clear: err = %v, want NotFound", err)
	}
}

func TestHistory_RequiresSubject(t *testing.T) {
	mem := store.NewMemoryStore()
	defer mem.Close()
	h := NewHistory(mem, WithHistoryLogger(logger.Nop()))

	if err := h.Record(context.Background(), "", core.PredictionResult{}); !core.IsInvalidInput(err) {
		t.Errorf("record: err = %v", err)
	}
	if _, err := h.List(context.Background(), "", 0); !core.IsInvalidInput(err) {
		t.Errorf("list: err = %v", err)
	}
	if _, err := h.Last(context.Background(), ""); !core.IsInvalidInput(err) {
		t.Errorf("last: err = %v", err)
	}
}

func TestHistory_SkipsUnreadableEntries(t *testing.T) {
	mem := store.NewMemoryStore()
	defer mem.Close()
	h := NewHistory(mem, WithHistoryKeyPrefix("test:"), WithHistoryLogger(logger.Nop()))
	ctx := context.Background()

	if err := mem.ZAdd(ctx, "test:s-2", 1, "not json"); err != nil {
		t.Fatal(err)
	}
	if err := h.Record(ctx, "s-2", core.PredictionResult{Version: "v1"}); err != nil {
		t.Fatal(err)
	}
	entries, err := h.List(ctx, "s-2", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].SubjectID != "s-2" {
		t.Errorf("entries = %+v", entries)
	}
}
