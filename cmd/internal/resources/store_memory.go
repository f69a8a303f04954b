package resources

import (
	"context"
	"sync"

	"syncgate/cmd/internal/reconcile"
	"syncgate/cmd/internal/settings"
)

type memKey struct {
	kind    settings.Kind
	project int64
	name    string
}

type memDoc struct {
	rec      reconcile.Record
	versions map[int64]string
}

// MemoryStore is a Store for dev runs without a database, and for tests.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[memKey]*memDoc
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[memKey]*memDoc)}
}

func toMemKey(k Key) memKey {
	return memKey{kind: k.Kind, project: k.project(), name: k.name()}
}

// Seed creates or overwrites k at version 1.
func (s *MemoryStore) Seed(k Key, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[toMemKey(k)] = &memDoc{
		rec:      reconcile.Record{Text: text, Version: 1},
		versions: map[int64]string{1: text},
	}
}

func (s *MemoryStore) Load(ctx context.Context, k Key) (reconcile.Record, error) {
	if err := ctx.Err(); err != nil {
		return reconcile.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[toMemKey(k)]
	if !ok {
		return reconcile.Record{}, ErrNotFound
	}
	return d.rec, nil
}

func (s *MemoryStore) Save(ctx context.Context, k Key, u reconcile.Update) (reconcile.Record, error) {
	if err := ctx.Err(); err != nil {
		return reconcile.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	mk := toMemKey(k)
	d, ok := s.docs[mk]
	if !ok {
		if k.Kind != settings.KindWiki || u.Version != 0 {
			return reconcile.Record{}, ErrNotFound
		}
		d = &memDoc{versions: make(map[int64]string)}
		s.docs[mk] = d
	}
	if u.Version != 0 && u.Version != d.rec.Version {
		return reconcile.Record{}, reconcile.ErrVersionMismatch
	}

	d.rec = reconcile.Record{Text: u.Text, Version: d.rec.Version + 1}
	d.versions[d.rec.Version] = u.Text
	return d.rec, nil
}

func (s *MemoryStore) TextAt(ctx context.Context, k Key, version int64) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[toMemKey(k)]
	if !ok {
		return "", false, nil
	}
	t, ok := d.versions[version]
	return t, ok, nil
}
