package learn

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestBolt(t *testing.T) *BoltKV {
	t.Helper()
	kv, err := OpenBolt(filepath.Join(t.TempDir(), "learning.db"))
	if err != nil {
		t.Fatalf("OpenBolt() error = %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestDisabledLearnerIsANoop(t *testing.T) {
	l := New(false, openTestBolt(t))
	if l.Enabled() {
		t.Fatal("Enabled() = true for a disabled learner")
	}
	l.Observe("Units", []byte(`{"value":[{"Id":1}]}`))

	if _, err := l.ReadSummary(context.Background()); err != ErrDisabled {
		t.Errorf("ReadSummary() error = %v, want ErrDisabled", err)
	}
	if _, err := l.ReadEntity(context.Background(), "Units"); err != ErrDisabled {
		t.Errorf("ReadEntity() error = %v, want ErrDisabled", err)
	}
}

func TestLearnerWithNilKVIsDisabled(t *testing.T) {
	l := New(true, nil)
	if l.Enabled() {
		t.Fatal("Enabled() = true with a nil KV backend")
	}
}

func TestProcessWritesFieldsOnFirstObservation(t *testing.T) {
	l := New(true, openTestBolt(t))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.nowFunc = func() time.Time { return now }

	ctx := context.Background()
	l.process(ctx, job{entity: "Units", body: []byte(`{"value":[{"UnitId":1,"Name":"A","@odata.etag":"x"}]}`)})

	rec, err := l.ReadEntity(ctx, "units")
	if err != nil {
		t.Fatalf("ReadEntity() error = %v", err)
	}
	if rec == nil {
		t.Fatal("ReadEntity() = nil, want a record after observation")
	}
	if rec.FieldCount != 2 {
		t.Fatalf("FieldCount = %d, want 2 (UnitId, Name, excluding @odata.etag)", rec.FieldCount)
	}
	for _, f := range rec.Fields {
		if f == "@odata.etag" {
			t.Error("Fields contains an @odata.* key, want it excluded")
		}
	}
}

func TestProcessSkipsWriteWhenNoNewFieldAndNotStale(t *testing.T) {
	l := New(true, openTestBolt(t))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	l.process(ctx, job{entity: "Units", body: []byte(`{"value":[{"UnitId":1}]}`)})
	first, _ := l.ReadEntity(ctx, "Units")

	// Same fields, shortly after: no new field, not stale -> no rewrite.
	now = now.Add(time.Hour)
	l.process(ctx, job{entity: "Units", body: []byte(`{"value":[{"UnitId":2}]}`)})
	second, _ := l.ReadEntity(ctx, "Units")

	if first.LastWriteMs != second.LastWriteMs {
		t.Error("record was rewritten despite no new field and no staleness")
	}
}

func TestProcessRewritesWhenNewFieldObserved(t *testing.T) {
	l := New(true, openTestBolt(t))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	l.process(ctx, job{entity: "Units", body: []byte(`{"value":[{"UnitId":1}]}`)})
	l.process(ctx, job{entity: "Units", body: []byte(`{"value":[{"UnitId":1,"Name":"A"}]}`)})

	rec, _ := l.ReadEntity(ctx, "Units")
	if rec.FieldCount != 2 {
		t.Fatalf("FieldCount = %d, want 2 after observing a new field", rec.FieldCount)
	}
}

func TestProcessIgnoresNonArrayValue(t *testing.T) {
	l := New(true, openTestBolt(t))
	ctx := context.Background()
	l.process(ctx, job{entity: "Units", body: []byte(`{"value":"not-an-array"}`)})

	rec, err := l.ReadEntity(ctx, "Units")
	if err != nil {
		t.Fatalf("ReadEntity() error = %v", err)
	}
	if rec != nil {
		t.Fatal("ReadEntity() = non-nil record, want nil: no valid observation occurred")
	}
}

func TestReadSummaryAggregatesIndexedEntities(t *testing.T) {
	l := New(true, openTestBolt(t))
	ctx := context.Background()

	l.process(ctx, job{entity: "Units", body: []byte(`{"value":[{"UnitId":1}]}`)})
	l.process(ctx, job{entity: "Tenants", body: []byte(`{"value":[{"TenantId":1}]}`)})

	summary, err := l.ReadSummary(ctx)
	if err != nil {
		t.Fatalf("ReadSummary() error = %v", err)
	}
	if summary.EntityCount != 2 {
		t.Fatalf("EntityCount = %d, want 2", summary.EntityCount)
	}
	if len(summary.Records) != 2 {
		t.Fatalf("len(Records) = %d, want 2", len(summary.Records))
	}
}

func TestObserveDoesNotBlockWhenQueueFull(t *testing.T) {
	l := New(true, openTestBolt(t))
	l.jobs = make(chan job) // unbuffered: Observe must not block on a full/unready channel

	done := make(chan struct{})
	go func() {
		l.Observe("Units", []byte(`{"value":[{"UnitId":1}]}`))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Observe() blocked with no reader draining the queue")
	}
}
