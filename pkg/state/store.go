package state

import (
	"fmt"
	"sync"

	"github.com/core-tools/hsu-iiswatch/pkg/config"
	"github.com/core-tools/hsu-iiswatch/pkg/domain"
	"github.com/core-tools/hsu-iiswatch/pkg/errors"
)

// Store is the single writable record of every monitored entity's status.
// The store lock only guards membership and ordering; each record has its own
// lock so updates to different entities never wait on each other.
type Store struct {
	mutex   sync.RWMutex
	records map[domain.EntityKey]*record
	order   []domain.EntityKey
}

type record struct {
	mutex   sync.Mutex
	status  domain.EntityStatus
	removed bool
}

// ReconcileResult lists the keys a Reconcile call created and removed
type ReconcileResult struct {
	Added   []domain.EntityKey
	Removed []domain.EntityKey
}

func (r ReconcileResult) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

func NewStore() *Store {
	return &Store{
		records: make(map[domain.EntityKey]*record),
	}
}

func (s *Store) lookup(key domain.EntityKey) (*record, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	rec, ok := s.records[key]
	return rec, ok
}

func notFound(key domain.EntityKey) error {
	return errors.NewNotFoundError(fmt.Sprintf("%s '%s' is not monitored", key.Kind, key.Name), nil).
		WithContext("kind", key.Kind).WithContext("name", key.Name)
}

func (s *Store) Get(kind domain.EntityKind, name string) (domain.EntityStatus, bool) {
	rec, ok := s.lookup(domain.EntityKey{Kind: kind, Name: name})
	if !ok {
		return domain.EntityStatus{}, false
	}
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	if rec.removed {
		return domain.EntityStatus{}, false
	}
	return rec.status, true
}

// Upsert applies fn to one record atomically and returns the updated copy.
// Kind and name are restored after fn so a record cannot change identity.
func (s *Store) Upsert(kind domain.EntityKind, name string, fn func(status *domain.EntityStatus)) (domain.EntityStatus, error) {
	key := domain.EntityKey{Kind: kind, Name: name}
	rec, ok := s.lookup(key)
	if !ok {
		return domain.EntityStatus{}, notFound(key)
	}

	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	if rec.removed {
		return domain.EntityStatus{}, notFound(key)
	}

	fn(&rec.status)
	rec.status.Kind = kind
	rec.status.Name = name
	return rec.status, nil
}

// List returns the records of one kind in configuration order
func (s *Store) List(kind domain.EntityKind) []domain.EntityStatus {
	s.mutex.RLock()
	recs := make([]*record, 0, len(s.order))
	for _, key := range s.order {
		if key.Kind == kind {
			recs = append(recs, s.records[key])
		}
	}
	s.mutex.RUnlock()

	statuses := make([]domain.EntityStatus, 0, len(recs))
	for _, rec := range recs {
		rec.mutex.Lock()
		if !rec.removed {
			statuses = append(statuses, rec.status)
		}
		rec.mutex.Unlock()
	}
	return statuses
}

// Reconcile makes the record set match the snapshot: new keys get an Unknown
// record, keys missing from the snapshot are dropped, existing records are
// left untouched.
func (s *Store) Reconcile(snapshot *config.Config) ReconcileResult {
	keys := snapshot.Keys()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	var result ReconcileResult
	wanted := make(map[domain.EntityKey]struct{}, len(keys))
	for _, key := range keys {
		wanted[key] = struct{}{}
		if _, exists := s.records[key]; exists {
			continue
		}
		s.records[key] = &record{status: domain.EntityStatus{
			Kind:  key.Kind,
			Name:  key.Name,
			State: domain.EntityStateUnknown,
		}}
		result.Added = append(result.Added, key)
	}

	for _, key := range s.order {
		if _, keep := wanted[key]; keep {
			continue
		}
		rec := s.records[key]
		rec.mutex.Lock()
		rec.removed = true
		rec.mutex.Unlock()
		delete(s.records, key)
		result.Removed = append(result.Removed, key)
	}

	s.order = keys
	return result
}
