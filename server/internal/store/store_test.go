package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/defecttrend/defecttrend/pkg/types"
)

func counts(errs, warns int) types.Snapshot {
	return types.MustSnapshot(map[types.Severity]int{
		types.SeverityError:   errs,
		types.SeverityWarning: warns,
	})
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestRecordAndHead(t *testing.T) {
	st := New(0)
	if _, err := st.Record("core", types.Build{Number: 1}, counts(3, 1)); err != nil {
		t.Fatalf("Record #1: %v", err)
	}
	head, err := st.Record("core", types.Build{Number: 2}, counts(5, 0))
	if err != nil {
		t.Fatalf("Record #2: %v", err)
	}

	if got := st.Head("core"); got != head {
		t.Fatal("Head: expected node returned by Record")
	}
	if head.Build.Number != 2 || head.Previous == nil || head.Previous.Build.Number != 1 {
		t.Errorf("chain: got head %d prev %+v", head.Build.Number, head.Previous)
	}
	e, _ := st.Get("core")
	if e.Builds != 2 {
		t.Errorf("Builds: got %d, want 2", e.Builds)
	}
}

func TestRecord_RejectsStaleBuild(t *testing.T) {
	st := New(0)
	st.Record("core", types.Build{Number: 5}, counts(1, 0))

	for _, n := range []int{5, 4} {
		_, err := st.Record("core", types.Build{Number: n}, counts(1, 0))
		if !errors.Is(err, ErrStaleBuild) {
			t.Errorf("Record #%d: got %v, want ErrStaleBuild", n, err)
		}
	}
	if st.Head("core").Build.Number != 5 {
		t.Error("stale record must not change head")
	}
}

func TestRecord_RejectsBadInput(t *testing.T) {
	st := New(0)
	if _, err := st.Record("", types.Build{Number: 1}, counts(0, 0)); err == nil {
		t.Error("empty job: expected error")
	}
	if _, err := st.Record("core", types.Build{Number: 0}, counts(0, 0)); err == nil {
		t.Error("build 0: expected error")
	}
}

func TestRecord_DefaultsTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := New(0)
	st.now = fixedClock(now)

	head, _ := st.Record("core", types.Build{Number: 1}, counts(0, 0))
	if !head.Build.Timestamp.Equal(now) {
		t.Errorf("Timestamp: got %v, want %v", head.Build.Timestamp, now)
	}
}

func TestSubscribe(t *testing.T) {
	st := New(0)
	var got []string
	st.Subscribe(func(job string, head *types.HistoryNode) {
		// The store lock must be released while listeners run.
		_ = st.Count()
		got = append(got, job)
	})

	st.Record("a", types.Build{Number: 1}, counts(0, 0))
	st.Record("b", types.Build{Number: 1}, counts(0, 0))
	st.Record("a", types.Build{Number: 1}, counts(0, 0)) // stale, no notification

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("notifications: got %v, want [a b]", got)
	}
}

func TestSubscribe_DeliversInRecordOrder(t *testing.T) {
	st := New(0)
	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		mu  sync.Mutex
		got []int
	)
	st.Subscribe(func(job string, head *types.HistoryNode) {
		if head.Build.Number == 1 {
			close(entered)
			<-release
		}
		mu.Lock()
		got = append(got, head.Build.Number)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		st.Record("core", types.Build{Number: 1}, counts(1, 0))
	}()
	<-entered
	go func() {
		defer wg.Done()
		st.Record("core", types.Build{Number: 2}, counts(2, 0))
	}()

	// Build 2 lands in the store while build 1's listener is still busy.
	deadline := time.Now().Add(2 * time.Second)
	for st.Head("core").Build.Number != 2 {
		if time.Now().After(deadline) {
			t.Fatal("build 2 was not recorded while a listener was blocked")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("notifications: got %v, want [1 2]", got)
	}
}

func TestConcurrentRecord_NotifiesEveryBuildInOrder(t *testing.T) {
	st := New(0)
	var got []int
	st.Subscribe(func(job string, head *types.HistoryNode) {
		got = append(got, head.Build.Number)
	})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 1; i <= 50; i++ {
				st.Record("core", types.Build{Number: g*1000 + i}, counts(i, 0))
			}
		}(g)
	}
	wg.Wait()

	e, _ := st.Get("core")
	if len(got) != e.Builds {
		t.Fatalf("notifications: got %d, want %d", len(got), e.Builds)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("notification %d: build %d after %d", i, got[i], got[i-1])
		}
	}
	if got[len(got)-1] != st.Head("core").Build.Number {
		t.Errorf("last notification %d, head %d", got[len(got)-1], st.Head("core").Build.Number)
	}
}

func TestJobs_Sorted(t *testing.T) {
	st := New(0)
	for _, j := range []string{"zeta", "alpha", "mid"} {
		st.Record(j, types.Build{Number: 1}, counts(0, 0))
	}
	jobs := st.Jobs()
	if len(jobs) != 3 || jobs[0].Job != "alpha" || jobs[2].Job != "zeta" {
		t.Errorf("Jobs: got %+v", jobs)
	}
	if st.Count() != 3 {
		t.Errorf("Count: got %d, want 3", st.Count())
	}
}

func TestEvict(t *testing.T) {
	base := time.Now()
	st := New(time.Hour)

	st.now = fixedClock(base.Add(-2 * time.Hour))
	st.Record("old", types.Build{Number: 1}, counts(0, 0))
	st.now = fixedClock(base)
	st.Record("fresh", types.Build{Number: 1}, counts(0, 0))

	if n := st.Evict(base); n != 1 {
		t.Errorf("Evict: removed %d, want 1", n)
	}
	if _, ok := st.Get("old"); ok {
		t.Error("old job should be evicted")
	}
	if _, ok := st.Get("fresh"); !ok {
		t.Error("fresh job should remain")
	}
}

func TestEvict_ZeroRetentionKeepsAll(t *testing.T) {
	st := New(0)
	st.now = fixedClock(time.Unix(0, 0))
	st.Record("core", types.Build{Number: 1}, counts(0, 0))
	if n := st.Evict(time.Now()); n != 0 {
		t.Errorf("Evict: removed %d, want 0", n)
	}
}

func TestConcurrentRecord(t *testing.T) {
	st := New(0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 1; i <= 50; i++ {
				st.Record("core", types.Build{Number: g*1000 + i}, counts(i, 0))
				st.Head("core")
				st.Jobs()
			}
		}(g)
	}
	wg.Wait()
	if st.Head("core") == nil {
		t.Fatal("expected a head after concurrent records")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	st := New(0)
	st.Record("core", types.Build{Number: 1, Timestamp: ts}, counts(3, 1))
	st.Record("core", types.Build{Number: 2, Label: "rc-2", Timestamp: ts.Add(time.Hour)}, counts(5, 0))
	st.Record("web", types.Build{Number: 7, Timestamp: ts}, counts(0, 2))

	if !st.Dirty() {
		t.Fatal("store should be dirty before Save")
	}
	if err := st.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if st.Dirty() {
		t.Error("store should be clean after Save")
	}

	loaded := New(0)
	if err := loaded.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	head := loaded.Head("core")
	if head == nil || head.Build.Number != 2 || head.Build.Label != "rc-2" {
		t.Fatalf("core head: got %+v", head)
	}
	if head.Snapshot.Count(types.SeverityError) != 5 {
		t.Errorf("core #2 errors: got %d, want 5", head.Snapshot.Count(types.SeverityError))
	}
	prev := head.Previous
	if prev == nil || prev.Build.Number != 1 || !prev.Build.Timestamp.Equal(ts) {
		t.Fatalf("core #1: got %+v", prev)
	}
	if prev.Snapshot.Count(types.SeverityWarning) != 1 {
		t.Errorf("core #1 warnings: got %d, want 1", prev.Snapshot.Count(types.SeverityWarning))
	}
	if e, _ := loaded.Get("core"); e.Builds != 2 {
		t.Errorf("core Builds: got %d, want 2", e.Builds)
	}
	if loaded.Head("web") == nil {
		t.Error("web job missing after load")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	st := New(0)
	if err := st.LoadFile(filepath.Join(t.TempDir(), "nope.json")); err != nil {
		t.Fatalf("LoadFile missing: %v", err)
	}
	if st.Count() != 0 {
		t.Errorf("Count: got %d, want 0", st.Count())
	}
}

func TestLoadFile_MigratesVersion1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	v1 := `{
  "jobs": {
    "core": [
      {"build": "#12", "timestamp": 1700000000000, "error": 3, "warning": 1, "style": 2},
      {"build": "#13", "timestamp": 1700000600000, "error": 1, "no_category": 4}
    ]
  }
}`
	if err := os.WriteFile(path, []byte(v1), 0o600); err != nil {
		t.Fatal(err)
	}

	st := New(0)
	if err := st.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	head := st.Head("core")
	if head == nil || head.Build.Number != 13 || head.Build.Label != "#13" {
		t.Fatalf("head: got %+v", head)
	}
	if got := head.Snapshot.Count(types.SeverityNoCategory); got != 4 {
		t.Errorf("no_category: got %d, want 4", got)
	}
	if got := head.Previous.Snapshot.Total(); got != 6 {
		t.Errorf("#12 total: got %d, want 6", got)
	}
	if want := time.UnixMilli(1700000000000).UTC(); !head.Previous.Build.Timestamp.Equal(want) {
		t.Errorf("#12 timestamp: got %v, want %v", head.Previous.Build.Timestamp, want)
	}
}

func TestLoadFile_Rejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"future document", `{"version": 9, "jobs": {}}`},
		{"future record", `{"version": 2, "jobs": {"core": {"builds": [{"version": 3, "number": 1}]}}}`},
		{"duplicate build", `{"version": 2, "jobs": {"core": {"builds": [
			{"version": 2, "number": 1, "counts": {}},
			{"version": 2, "number": 1, "counts": {}}]}}}`},
		{"unknown severity", `{"version": 2, "jobs": {"core": {"builds": [
			{"version": 2, "number": 1, "counts": {"fatal": 1}}]}}}`},
		{"v1 label without number", `{"jobs": {"core": [{"build": "nightly"}]}}`},
		{"malformed", `{"jobs": `},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "history.json")
			os.WriteFile(path, []byte(tc.doc), 0o600)
			if err := New(0).LoadFile(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRun_FlushesOnShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	st := New(0)
	st.Record("core", types.Build{Number: 1}, counts(1, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		st.Run(ctx, path, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("history not flushed: %v", err)
	}
}
