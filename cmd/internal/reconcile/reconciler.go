// Package reconcile turns optimistic-lock failures on collaboratively edited resources
// into a merge-and-retry flow.
//
// The Reconciler decorates a Resource's Save. With collaboration enabled, a stale lock
// version whose content has not really diverged is adopted silently; a genuine divergence
// becomes a PendingMerge in the Mailbox and a redirect back to the edit view. A Save that
// still mismatches is reloaded once and then either redirected or, for kinds configured
// to retry, resubmitted exactly once.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"syncgate/cmd/internal/metrics"
	"syncgate/cmd/internal/settings"
)

// Record is a stored value and its lock version.
type Record struct {
	Text    string
	Version int64
}

// Update is a submitted edit. Version 0 means the client sent no lock version.
type Update struct {
	Text    string
	Version int64
}

// Resource is one editable value under optimistic locking.
type Resource interface {
	Load(ctx context.Context) (Record, error)
	// Save writes u if u.Version matches the stored version (or is 0) and returns the new
	// record. A stale version fails with ErrVersionMismatch.
	Save(ctx context.Context, u Update) (Record, error)
}

// Historian is implemented by resources that keep prior versions.
type Historian interface {
	TextAt(ctx context.Context, version int64) (text string, ok bool, err error)
}

// Request is one update to reconcile.
type Request struct {
	Kind       settings.Kind
	DocumentID string
	Principal  string
	Resource   Resource
	Update     Update
	Settings   settings.Settings
}

// Result describes how an update ended.
type Result struct {
	State State
	// Path lists every state visited, starting with StateSubmitting.
	Path    []State
	Record  Record
	Merge   *PendingMerge
	Retried bool
}

// Reconciler is safe for concurrent use. It holds no per-resource locks.
type Reconciler struct {
	mailbox   Mailbox
	retryOnce map[settings.Kind]bool

	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRetryOnce replaces the set of kinds whose mismatched write is resubmitted once
// instead of redirected.
func WithRetryOnce(kinds ...settings.Kind) Option {
	return func(r *Reconciler) {
		r.retryOnce = make(map[settings.Kind]bool, len(kinds))
		for _, k := range kinds {
			r.retryOnce[k] = true
		}
	}
}

// WithMetrics records outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// New returns a Reconciler writing PendingMerge entries to mb.
// By default only issues retry once.
func New(mb Mailbox, log *slog.Logger, opts ...Option) *Reconciler {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	r := &Reconciler{
		mailbox:   mb,
		retryOnce: map[settings.Kind]bool{settings.KindIssue: true},
		log:       log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Take returns and clears the PendingMerge left for principal on documentID.
func (r *Reconciler) Take(ctx context.Context, principal, documentID string) (PendingMerge, bool, error) {
	return r.mailbox.Take(ctx, MailboxKey{Principal: principal, DocumentID: documentID})
}

type run struct {
	req  Request
	path []State
}

func (x *run) to(s State) {
	cur := x.path[len(x.path)-1]
	if !canTransition(cur, s) {
		panic(fmt.Sprintf("reconcile: illegal transition %s -> %s", cur, s))
	}
	x.path = append(x.path, s)
}

func (x *run) result(rec Record, merge *PendingMerge, retried bool) Result {
	return Result{
		State:   x.path[len(x.path)-1],
		Path:    x.path,
		Record:  rec,
		Merge:   merge,
		Retried: retried,
	}
}

// Submit reconciles one update.
//
// With collaboration disabled for req.Kind the Reconciler is inert: Save runs once and
// its error, including ErrVersionMismatch, is returned unchanged.
func (r *Reconciler) Submit(ctx context.Context, req Request) (Result, error) {
	kind := string(req.Kind)
	x := &run{req: req, path: []State{StateSubmitting}}

	if !req.Settings.Collab(req.Kind) {
		rec, err := req.Resource.Save(ctx, req.Update)
		if err != nil {
			r.metrics.Reconciled(kind, "inert_error")
			return x.result(Record{}, nil, false), err
		}
		x.to(StateCommitted)
		r.metrics.Reconciled(kind, "inert")
		return x.result(rec, nil, false), nil
	}

	upd := req.Update
	if upd.Version > 0 {
		cur, err := req.Resource.Load(ctx)
		if err != nil {
			return x.result(Record{}, nil, false), fmt.Errorf("reload %s: %w", req.DocumentID, err)
		}

		if cur.Version != upd.Version {
			diverged, err := r.diverged(ctx, req.Resource, cur, upd)
			if err != nil {
				return x.result(Record{}, nil, false), err
			}
			if diverged {
				x.to(StateConflicted)
				return r.redirect(ctx, x, cur)
			}
			r.log.Debug("reconcile.adopt_version",
				"document_id", req.DocumentID,
				"submitted", upd.Version,
				"stored", cur.Version,
			)
			upd.Version = cur.Version
		}
	}

	rec, err := req.Resource.Save(ctx, upd)
	if err == nil {
		x.to(StateCommitted)
		r.metrics.Reconciled(kind, "committed")
		return x.result(rec, nil, false), nil
	}
	if !errors.Is(err, ErrVersionMismatch) {
		r.metrics.Reconciled(kind, "error")
		return x.result(Record{}, nil, false), err
	}

	// Lost the race between reload and write.
	x.to(StateConflicted)
	fresh, lerr := req.Resource.Load(ctx)
	if lerr != nil {
		return x.result(Record{}, nil, false), fmt.Errorf("reload %s after mismatch: %w", req.DocumentID, lerr)
	}

	if !r.retryOnce[req.Kind] {
		return r.redirect(ctx, x, fresh)
	}

	merge := &PendingMerge{
		DocumentID:    req.DocumentID,
		ServerText:    fresh.Text,
		ServerVersion: fresh.Version,
		Patch:         localPatch(fresh.Text, upd.Text),
	}
	r.log.Info("reconcile.retry",
		"document_id", req.DocumentID,
		"principal", req.Principal,
		"server_version", fresh.Version,
	)
	// The client never sees Result, so the merge goes to its next edit view. It is
	// informational there: the resubmit below already happened.
	key := MailboxKey{Principal: req.Principal, DocumentID: req.DocumentID}
	if err := r.mailbox.Put(ctx, key, *merge); err != nil {
		r.log.Warn("reconcile.retry.park_fail", "document_id", req.DocumentID, "err", err)
	}

	upd.Version = fresh.Version
	rec, err = req.Resource.Save(ctx, upd)
	if err != nil {
		if errors.Is(err, ErrVersionMismatch) {
			r.metrics.Reconciled(kind, "unrecoverable")
			r.log.Warn("reconcile.unrecoverable", "document_id", req.DocumentID, "err", err)
			return x.result(Record{}, merge, true), fmt.Errorf("%w: %w", ErrUnrecoverableConflict, err)
		}
		r.metrics.Reconciled(kind, "error")
		return x.result(Record{}, merge, true), err
	}

	x.to(StateCommitted)
	r.metrics.Reconciled(kind, "retried")
	return x.result(rec, merge, true), nil
}

// diverged reports whether the stored content really moved away from what the client edited.
// Without history, any stored text that differs from the submitted text counts.
func (r *Reconciler) diverged(ctx context.Context, res Resource, cur Record, upd Update) (bool, error) {
	if cur.Text == upd.Text {
		return false, nil
	}
	h, ok := res.(Historian)
	if !ok {
		return true, nil
	}
	base, found, err := h.TextAt(ctx, upd.Version)
	if err != nil {
		return false, fmt.Errorf("load base version %d: %w", upd.Version, err)
	}
	if !found {
		return true, nil
	}
	return cur.Text != base, nil
}

// redirect parks a PendingMerge for the client's next edit view. AutoRetry asks the
// client to resubmit once its CRDT state has merged ServerText.
func (r *Reconciler) redirect(ctx context.Context, x *run, cur Record) (Result, error) {
	req := x.req
	merge := PendingMerge{
		DocumentID:    req.DocumentID,
		ServerText:    cur.Text,
		ServerVersion: cur.Version,
		AutoRetry:     true,
		Patch:         localPatch(cur.Text, req.Update.Text),
	}
	key := MailboxKey{Principal: req.Principal, DocumentID: req.DocumentID}
	if err := r.mailbox.Put(ctx, key, merge); err != nil {
		r.metrics.Reconciled(string(req.Kind), "error")
		return x.result(Record{}, nil, false), fmt.Errorf("store pending merge: %w", err)
	}

	x.to(StateRedirected)
	r.metrics.Reconciled(string(req.Kind), "redirected")
	r.log.Info("reconcile.conflict",
		"document_id", req.DocumentID,
		"principal", req.Principal,
		"submitted_version", req.Update.Version,
		"server_version", cur.Version,
	)
	return x.result(cur, &merge, false), nil
}
