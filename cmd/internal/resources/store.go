// Package resources holds the collaboratively edited values (wiki pages and issue
// descriptions) and the HTTP endpoints that edit them through the reconciler.
package resources

import (
	"context"
	"errors"
	"strconv"

	"syncgate/cmd/internal/docname"
	"syncgate/cmd/internal/reconcile"
	"syncgate/cmd/internal/settings"
)

// ErrNotFound is returned when a resource does not exist.
var ErrNotFound = errors.New("resource not found")

// Key identifies one editable value.
type Key struct {
	Kind      settings.Kind
	ProjectID int64
	IssueID   int64
	Title     string
}

// WikiKey returns the key of a wiki page.
func WikiKey(projectID int64, title string) Key {
	return Key{Kind: settings.KindWiki, ProjectID: projectID, Title: title}
}

// IssueKey returns the key of an issue description.
func IssueKey(id int64) Key {
	return Key{Kind: settings.KindIssue, IssueID: id}
}

// DocumentID is the collaboration document name for k.
func (k Key) DocumentID() string {
	var c docname.Context
	switch k.Kind {
	case settings.KindIssue:
		c.IssueID = k.IssueID
	case settings.KindWiki:
		c.ProjectID = k.ProjectID
		c.WikiPageTitle = k.Title
	}
	id, _ := docname.Name(c)
	return id
}

// name is the per-kind storage name: the page title or the issue id.
func (k Key) name() string {
	if k.Kind == settings.KindIssue {
		return strconv.FormatInt(k.IssueID, 10)
	}
	return k.Title
}

func (k Key) project() int64 {
	if k.Kind == settings.KindIssue {
		return 0
	}
	return k.ProjectID
}

// Store persists values under optimistic locking.
//
// Save with Version 0 writes unconditionally (and creates wiki pages);
// any other Version must equal the stored one or Save fails with reconcile.ErrVersionMismatch.
// Issues are never created by Save.
type Store interface {
	Load(ctx context.Context, k Key) (reconcile.Record, error)
	Save(ctx context.Context, k Key, u reconcile.Update) (reconcile.Record, error)
	TextAt(ctx context.Context, k Key, version int64) (string, bool, error)
}

// Bind adapts one key of s to reconcile.Resource (and reconcile.Historian).
func Bind(s Store, k Key) reconcile.Resource {
	return bound{store: s, key: k}
}

type bound struct {
	store Store
	key   Key
}

func (b bound) Load(ctx context.Context) (reconcile.Record, error) {
	return b.store.Load(ctx, b.key)
}

func (b bound) Save(ctx context.Context, u reconcile.Update) (reconcile.Record, error) {
	return b.store.Save(ctx, b.key, u)
}

func (b bound) TextAt(ctx context.Context, version int64) (string, bool, error) {
	return b.store.TextAt(ctx, b.key, version)
}
