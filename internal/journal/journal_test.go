package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hazyhaar/gen4eva/forever"
	"github.com/hazyhaar/gen4eva/page"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openMemory(t *testing.T, buffer int) *Journal {
	t.Helper()
	j, err := Open(Config{Path: ":memory:", Buffer: buffer, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

var t0 = time.UnixMilli(1_700_000_000_000)

func TestRecord_RecentAndStats(t *testing.T) {
	j := openMemory(t, 0)
	ctx := context.Background()

	j.Record(forever.Activity{Kind: forever.ActivityBootstrapOK, At: t0, Detail: "container"})
	j.Record(forever.Activity{Kind: forever.ActivityArtifact, At: t0.Add(time.Second), Node: page.Node{Class: "frame sc-abc"}})
	j.Record(forever.Activity{Kind: forever.ActivityClickGenerate, At: t0.Add(2 * time.Second)})
	j.Record(forever.Activity{Kind: forever.ActivityArtifact, At: t0.Add(5 * time.Second), Node: page.Node{Class: "frame sc-abc"}})
	if err := j.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	recent, err := j.Recent(ctx, 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 4 {
		t.Fatalf("recent: got %d entries", len(recent))
	}
	if recent[0].Kind != "artifact" || !recent[0].CreatedAt.Equal(t0.Add(5*time.Second)) {
		t.Errorf("newest first: %+v", recent[0])
	}
	if recent[0].NodeClass != "frame sc-abc" || recent[0].ID == "" {
		t.Errorf("entry fields: %+v", recent[0])
	}
	if recent[3].Detail != "container" {
		t.Errorf("oldest: %+v", recent[3])
	}

	only, err := j.Recent(ctx, 1, "artifact")
	if err != nil || len(only) != 1 || only[0].Kind != "artifact" {
		t.Errorf("filtered recent: %v %+v", err, only)
	}

	st, err := j.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 4 || st.ByKind["artifact"] != 2 || st.ByKind["click_generate"] != 1 {
		t.Errorf("stats: %+v", st)
	}
	if st.LastArtifact == nil || !st.LastArtifact.Equal(t0.Add(5*time.Second)) {
		t.Errorf("last artifact: %v", st.LastArtifact)
	}
}

func TestStats_Empty(t *testing.T) {
	j := openMemory(t, 0)
	st, err := j.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 0 || st.LastArtifact != nil {
		t.Errorf("empty stats: %+v", st)
	}
}

func TestRecord_ZeroTimeDefaultsToNow(t *testing.T) {
	j := openMemory(t, 0)
	before := time.Now().Add(-time.Second)
	j.Record(forever.Activity{Kind: forever.ActivityArmed})
	if err := j.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, err := j.Recent(context.Background(), 1, "")
	if err != nil || len(got) != 1 {
		t.Fatalf("recent: %v %v", err, got)
	}
	if got[0].CreatedAt.Before(before) {
		t.Errorf("created_at %v not defaulted to now", got[0].CreatedAt)
	}
}

func TestClose_WritesQueuedAndRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "journal.db")
	j, err := Open(Config{Path: path, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		j.Record(forever.Activity{Kind: forever.ActivityArtifact, At: t0.Add(time.Duration(i) * time.Millisecond)})
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	j.Record(forever.Activity{Kind: forever.ActivityArtifact})
	if _, err := j.Stats(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("stats after close: %v", err)
	}
	if err := j.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("flush after close: %v", err)
	}

	again, err := Open(Config{Path: path, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	st, err := again.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.ByKind["artifact"] != 100 {
		t.Errorf("persisted artifacts: got %d, want 100", st.ByKind["artifact"])
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("database table is locked"), true},
		{errors.New("no such table"), false},
	}
	for _, tt := range tests {
		if got := isBusy(tt.err); got != tt.want {
			t.Errorf("isBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
