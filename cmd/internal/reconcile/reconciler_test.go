package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"

	"syncgate/cmd/internal/metrics"
	"syncgate/cmd/internal/settings"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeResource is an optimistic-lock store for one value.
type fakeResource struct {
	mu    sync.Mutex
	rec   Record
	saves []int64

	// beforeSave runs ahead of each Save, e.g. to simulate a concurrent writer.
	beforeSave func(f *fakeResource)
}

func (f *fakeResource) Load(context.Context) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec, nil
}

func (f *fakeResource) Save(_ context.Context, u Update) (Record, error) {
	if f.beforeSave != nil {
		f.beforeSave(f)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.saves = append(f.saves, u.Version)
	if u.Version != 0 && u.Version != f.rec.Version {
		return Record{}, ErrVersionMismatch
	}
	f.rec = Record{Text: u.Text, Version: f.rec.Version + 1}
	return f.rec, nil
}

func (f *fakeResource) bump(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec = Record{Text: text, Version: f.rec.Version + 1}
}

// historyResource adds per-version text lookups.
type historyResource struct {
	*fakeResource
	history map[int64]string
}

func (h historyResource) TextAt(_ context.Context, v int64) (string, bool, error) {
	t, ok := h.history[v]
	return t, ok, nil
}

func collabOn() settings.Settings {
	return settings.Settings{CollabWiki: true, CollabIssues: true}
}

func newTestReconciler(opts ...Option) (*Reconciler, *MemoryMailbox) {
	mb := NewMemoryMailbox(0)
	return New(mb, slog.New(slog.NewJSONHandler(io.Discard, nil)), opts...), mb
}

func TestSubmit_DivergedContentRedirectsWithPendingMerge(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	r, _ := newTestReconciler(WithMetrics(m))
	res := historyResource{
		fakeResource: &fakeResource{rec: Record{Text: "intro\nfrom bob", Version: 6}},
		history:      map[int64]string{5: "intro", 6: "intro\nfrom bob"},
	}

	got, err := r.Submit(context.Background(), Request{
		Kind:       settings.KindWiki,
		DocumentID: "wiki-3-home",
		Principal:  "u-1",
		Resource:   res,
		Update:     Update{Text: "intro\nfrom alice", Version: 5},
		Settings:   collabOn(),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if got.State != StateRedirected {
		t.Fatalf("state=%v", got.State)
	}
	if want := []State{StateSubmitting, StateConflicted, StateRedirected}; !reflect.DeepEqual(got.Path, want) {
		t.Fatalf("path=%v want %v", got.Path, want)
	}
	if got.Merge == nil {
		t.Fatalf("merge missing")
	}
	want := *got.Merge
	if want.DocumentID != "wiki-3-home" || want.ServerText != "intro\nfrom bob" || want.ServerVersion != 6 || !want.AutoRetry {
		t.Fatalf("merge=%+v", want)
	}
	if merged, ok, err := ApplyPatch(want.ServerText, want.Patch); err != nil || !ok || merged != "intro\nfrom alice" {
		t.Fatalf("patch replay=%q ok=%v err=%v", merged, ok, err)
	}
	if len(res.saves) != 0 {
		t.Fatalf("conflicting write reached the store: %v", res.saves)
	}

	pm, ok, err := r.Take(context.Background(), "u-1", "wiki-3-home")
	if err != nil || !ok || pm != want {
		t.Fatalf("take=%+v ok=%v err=%v", pm, ok, err)
	}
	if _, ok, _ := r.Take(context.Background(), "u-1", "wiki-3-home"); ok {
		t.Fatalf("pending merge must be one-shot")
	}

	if v := testutil.ToFloat64(m.ReconcileTotal.WithLabelValues("wiki", "redirected")); v != 1 {
		t.Fatalf("redirected counter=%v", v)
	}
}

func TestSubmit_IdenticalTextAdoptsStoredVersion(t *testing.T) {
	t.Parallel()

	r, mb := newTestReconciler()
	res := &fakeResource{rec: Record{Text: "same", Version: 6}}

	got, err := r.Submit(context.Background(), Request{
		Kind:       settings.KindWiki,
		DocumentID: "wiki-3-home",
		Principal:  "u-1",
		Resource:   res,
		Update:     Update{Text: "same", Version: 5},
		Settings:   collabOn(),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.State != StateCommitted || got.Merge != nil {
		t.Fatalf("result=%+v", got)
	}
	if !reflect.DeepEqual(res.saves, []int64{6}) {
		t.Fatalf("saved with versions %v, want [6]", res.saves)
	}
	if _, ok, _ := mb.Take(context.Background(), MailboxKey{Principal: "u-1", DocumentID: "wiki-3-home"}); ok {
		t.Fatalf("no pending merge expected")
	}
}

func TestSubmit_VersionBumpWithoutContentChangeCommits(t *testing.T) {
	t.Parallel()

	r, _ := newTestReconciler()
	res := historyResource{
		fakeResource: &fakeResource{rec: Record{Text: "base", Version: 7}},
		history:      map[int64]string{5: "base", 6: "base", 7: "base"},
	}

	got, err := r.Submit(context.Background(), Request{
		Kind:       settings.KindWiki,
		DocumentID: "wiki-3-home",
		Resource:   res,
		Update:     Update{Text: "base plus edit", Version: 5},
		Settings:   collabOn(),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.State != StateCommitted || got.Record.Text != "base plus edit" || got.Record.Version != 8 {
		t.Fatalf("result=%+v", got)
	}
}

func TestSubmit_WithoutHistoryAnyTextDifferenceConflicts(t *testing.T) {
	t.Parallel()

	r, _ := newTestReconciler()
	res := &fakeResource{rec: Record{Text: "base", Version: 6}}

	got, err := r.Submit(context.Background(), Request{
		Kind:       settings.KindIssue,
		DocumentID: "issue-42",
		Resource:   res,
		Update:     Update{Text: "base plus edit", Version: 5},
		Settings:   collabOn(),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.State != StateRedirected {
		t.Fatalf("state=%v", got.State)
	}
}

func TestSubmit_CollabDisabledIsInert(t *testing.T) {
	t.Parallel()

	r, mb := newTestReconciler()
	res := &fakeResource{rec: Record{Text: "server", Version: 6}}

	_, err := r.Submit(context.Background(), Request{
		Kind:       settings.KindWiki,
		DocumentID: "wiki-3-home",
		Principal:  "u-1",
		Resource:   res,
		Update:     Update{Text: "client", Version: 5},
		Settings:   settings.Settings{CollabWiki: false, CollabIssues: true},
	})
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("err=%v, want version mismatch", err)
	}
	if errors.Is(err, ErrUnrecoverableConflict) {
		t.Fatalf("inert path must not wrap the error")
	}
	if !reflect.DeepEqual(res.saves, []int64{5}) {
		t.Fatalf("saves=%v", res.saves)
	}
	if _, ok, _ := mb.Take(context.Background(), MailboxKey{Principal: "u-1", DocumentID: "wiki-3-home"}); ok {
		t.Fatalf("inert path must not emit a pending merge")
	}
}

func TestSubmit_RaceRedirectsForWiki(t *testing.T) {
	t.Parallel()

	r, _ := newTestReconciler()
	res := &fakeResource{rec: Record{Text: "v5", Version: 5}}
	once := sync.Once{}
	res.beforeSave = func(f *fakeResource) { once.Do(func() { f.bump("concurrent") }) }

	got, err := r.Submit(context.Background(), Request{
		Kind:       settings.KindWiki,
		DocumentID: "wiki-3-home",
		Principal:  "u-1",
		Resource:   res,
		Update:     Update{Text: "mine", Version: 5},
		Settings:   collabOn(),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.State != StateRedirected || got.Retried {
		t.Fatalf("result=%+v", got)
	}
	if got.Merge.ServerText != "concurrent" || got.Merge.ServerVersion != 6 {
		t.Fatalf("merge=%+v", got.Merge)
	}
	if len(res.saves) != 1 {
		t.Fatalf("saves=%v, wiki must not retry", res.saves)
	}
}

func TestSubmit_RaceRetriesOnceForIssue(t *testing.T) {
	t.Parallel()

	r, mb := newTestReconciler()
	res := &fakeResource{rec: Record{Text: "v5", Version: 5}}
	once := sync.Once{}
	res.beforeSave = func(f *fakeResource) { once.Do(func() { f.bump("concurrent") }) }

	got, err := r.Submit(context.Background(), Request{
		Kind:       settings.KindIssue,
		DocumentID: "issue-42",
		Principal:  "u-1",
		Resource:   res,
		Update:     Update{Text: "mine", Version: 5},
		Settings:   collabOn(),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.State != StateCommitted || !got.Retried {
		t.Fatalf("result=%+v", got)
	}
	if want := []State{StateSubmitting, StateConflicted, StateCommitted}; !reflect.DeepEqual(got.Path, want) {
		t.Fatalf("path=%v", got.Path)
	}
	if !reflect.DeepEqual(res.saves, []int64{5, 6}) {
		t.Fatalf("saves=%v", res.saves)
	}
	if got.Record.Text != "mine" || got.Record.Version != 7 {
		t.Fatalf("record=%+v", got.Record)
	}

	// The overwritten concurrent text is parked for the next edit view, without asking
	// for another resubmit.
	pm, ok, err := mb.Take(context.Background(), MailboxKey{Principal: "u-1", DocumentID: "issue-42"})
	if err != nil || !ok {
		t.Fatalf("take: ok=%v err=%v", ok, err)
	}
	if pm.AutoRetry || pm.ServerText != "concurrent" || pm.ServerVersion != 6 {
		t.Fatalf("pending merge=%+v", pm)
	}
	if !reflect.DeepEqual(got.Merge, &pm) {
		t.Fatalf("result merge=%+v parked=%+v", got.Merge, pm)
	}
	if replayed, clean, err := ApplyPatch(pm.ServerText, pm.Patch); err != nil || !clean || replayed != "mine" {
		t.Fatalf("patch replay=%q clean=%v err=%v", replayed, clean, err)
	}
}

func TestSubmit_SecondMismatchIsUnrecoverable(t *testing.T) {
	t.Parallel()

	r, _ := newTestReconciler()
	res := &fakeResource{rec: Record{Text: "v5", Version: 5}}
	res.beforeSave = func(f *fakeResource) { f.bump("someone else") }

	_, err := r.Submit(context.Background(), Request{
		Kind:       settings.KindIssue,
		DocumentID: "issue-42",
		Resource:   res,
		Update:     Update{Text: "mine", Version: 5},
		Settings:   collabOn(),
	})
	if !errors.Is(err, ErrUnrecoverableConflict) || !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("err=%v", err)
	}
	if len(res.saves) != 2 {
		t.Fatalf("saves=%v, want exactly one retry", res.saves)
	}
}

func TestSubmit_WithRetryOnceOverride(t *testing.T) {
	t.Parallel()

	r, _ := newTestReconciler(WithRetryOnce(settings.KindWiki))
	res := &fakeResource{rec: Record{Text: "v5", Version: 5}}
	once := sync.Once{}
	res.beforeSave = func(f *fakeResource) { once.Do(func() { f.bump("concurrent") }) }

	got, err := r.Submit(context.Background(), Request{
		Kind:       settings.KindWiki,
		DocumentID: "wiki-3-home",
		Resource:   res,
		Update:     Update{Text: "mine", Version: 5},
		Settings:   collabOn(),
	})
	if err != nil || got.State != StateCommitted || !got.Retried {
		t.Fatalf("result=%+v err=%v", got, err)
	}
}

func TestSubmit_NoLockVersionSkipsReload(t *testing.T) {
	t.Parallel()

	r, _ := newTestReconciler()
	res := &fakeResource{rec: Record{Text: "server", Version: 9}}

	got, err := r.Submit(context.Background(), Request{
		Kind:       settings.KindIssue,
		DocumentID: "issue-1",
		Resource:   res,
		Update:     Update{Text: "client"},
		Settings:   collabOn(),
	})
	if err != nil || got.State != StateCommitted {
		t.Fatalf("result=%+v err=%v", got, err)
	}
	if !reflect.DeepEqual(res.saves, []int64{0}) {
		t.Fatalf("saves=%v", res.saves)
	}
}

func TestStateTransitions(t *testing.T) {
	t.Parallel()

	legal := [][2]State{
		{StateSubmitting, StateCommitted},
		{StateSubmitting, StateConflicted},
		{StateConflicted, StateRedirected},
		{StateConflicted, StateCommitted},
	}
	for _, p := range legal {
		if !canTransition(p[0], p[1]) {
			t.Fatalf("%v -> %v should be legal", p[0], p[1])
		}
	}
	illegal := [][2]State{
		{StateSubmitting, StateRedirected},
		{StateCommitted, StateConflicted},
		{StateRedirected, StateCommitted},
	}
	for _, p := range illegal {
		if canTransition(p[0], p[1]) {
			t.Fatalf("%v -> %v should be illegal", p[0], p[1])
		}
	}
	if !StateCommitted.Terminal() || !StateRedirected.Terminal() || StateConflicted.Terminal() {
		t.Fatalf("terminal states wrong")
	}
}
