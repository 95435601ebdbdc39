package relay_test

import (
	"path/filepath"
	"testing"

	"drawbridge/internal/relay"
)

// Diagnostic only: exercise the audit store queries directly to surface the
// underlying SQLite errors that the HTTP handlers mask as 500s.
func TestDiagStoreQueries(t *testing.T) {
	store, err := relay.NewStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	frames, sessions, err := store.Totals()
	t.Logf("Totals: frames=%d sessions=%d err=%v", frames, sessions, err)

	sums, err := store.ChannelSummaries()
	t.Logf("ChannelSummaries: n=%d err=%v", len(sums), err)

	recs, err := store.Commands("studio", 10)
	t.Logf("Commands: n=%d err=%v", len(recs), err)

	if err := store.RecordSession("studio", "127.0.0.1:1", "join"); err != nil {
		t.Logf("RecordSession err=%v", err)
	}

	ok := true
	store.RecordFrame(&relay.FrameRecord{Channel: "studio", FrameType: "command", CommandID: "c1", Action: "create_frame"})
	store.RecordFrame(&relay.FrameRecord{Channel: "studio", FrameType: "response", CommandID: "c1", Success: &ok})

	// Give the async writer a moment, then query again.
	deadline := 200
	for i := 0; i < deadline; i++ {
		frames, _, err = store.Totals()
		if err == nil && frames >= 2 {
			break
		}
	}
	frames, sessions, err = store.Totals()
	t.Logf("Totals after writes: frames=%d sessions=%d err=%v", frames, sessions, err)

	sums, err = store.ChannelSummaries()
	t.Logf("ChannelSummaries after writes: n=%d err=%v", len(sums), err)
	for _, s := range sums {
		t.Logf("  summary: %+v", *s)
	}

	recs, err = store.Commands("studio", 10)
	t.Logf("Commands after writes: n=%d err=%v", len(recs), err)
	for _, r := range recs {
		t.Logf("  record: %+v", *r)
	}
}
