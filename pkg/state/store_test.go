package state

import (
	"sync"
	"testing"

	"github.com/core-tools/hsu-iiswatch/pkg/config"
	"github.com/core-tools/hsu-iiswatch/pkg/domain"
	"github.com/core-tools/hsu-iiswatch/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(sites []string, pools []string) *config.Config {
	c := &config.Config{}
	for _, name := range sites {
		c.Sites = append(c.Sites, config.SiteConfig{Name: name})
	}
	for _, name := range pools {
		c.AppPools = append(c.AppPools, config.AppPoolConfig{Name: name})
	}
	config.SetDefaults(c)
	return c
}

func names(statuses []domain.EntityStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, s.Name)
	}
	return out
}

func TestStore_ReconcileCreatesUnknownRecords(t *testing.T) {
	store := NewStore()

	result := store.Reconcile(snapshot([]string{"S2", "S1"}, []string{"P1"}))

	assert.Len(t, result.Added, 3)
	assert.Empty(t, result.Removed)
	assert.Equal(t, []string{"S2", "S1"}, names(store.List(domain.EntityKindSite)))

	status, ok := store.Get(domain.EntityKindAppPool, "P1")
	require.True(t, ok)
	assert.Equal(t, domain.EntityStateUnknown, status.State)
	assert.Equal(t, 0, status.ConsecutiveFailureCount)
}

func TestStore_ReconcileIsIdempotent(t *testing.T) {
	store := NewStore()
	snap := snapshot([]string{"S1"}, []string{"P1", "P2"})
	store.Reconcile(snap)

	_, err := store.Upsert(domain.EntityKindAppPool, "P1", func(s *domain.EntityStatus) {
		s.State = domain.EntityStateStopped
		s.ConsecutiveFailureCount = 2
		s.LastError = "stopped"
	})
	require.NoError(t, err)

	beforeSites := store.List(domain.EntityKindSite)
	beforePools := store.List(domain.EntityKindAppPool)

	result := store.Reconcile(snap)

	assert.False(t, result.Changed())
	assert.Equal(t, beforeSites, store.List(domain.EntityKindSite))
	assert.Equal(t, beforePools, store.List(domain.EntityKindAppPool))
}

func TestStore_ReconcileRemovesAndReorders(t *testing.T) {
	store := NewStore()
	store.Reconcile(snapshot([]string{"A", "B", "C"}, []string{"P1"}))
	_, err := store.Upsert(domain.EntityKindSite, "C", func(s *domain.EntityStatus) { s.State = domain.EntityStateRunning })
	require.NoError(t, err)

	result := store.Reconcile(snapshot([]string{"C", "D"}, nil))

	assert.ElementsMatch(t, []domain.EntityKey{{Kind: domain.EntityKindSite, Name: "D"}}, result.Added)
	assert.ElementsMatch(t, []domain.EntityKey{
		{Kind: domain.EntityKindSite, Name: "A"},
		{Kind: domain.EntityKindSite, Name: "B"},
		{Kind: domain.EntityKindAppPool, Name: "P1"},
	}, result.Removed)
	assert.Equal(t, []string{"C", "D"}, names(store.List(domain.EntityKindSite)))
	assert.Empty(t, store.List(domain.EntityKindAppPool))

	status, ok := store.Get(domain.EntityKindSite, "C")
	require.True(t, ok)
	assert.Equal(t, domain.EntityStateRunning, status.State)

	_, ok = store.Get(domain.EntityKindSite, "A")
	assert.False(t, ok)
}

func TestStore_SameNameDifferentKinds(t *testing.T) {
	store := NewStore()
	store.Reconcile(snapshot([]string{"X"}, []string{"X"}))

	_, err := store.Upsert(domain.EntityKindSite, "X", func(s *domain.EntityStatus) { s.State = domain.EntityStateError })
	require.NoError(t, err)

	pool, ok := store.Get(domain.EntityKindAppPool, "X")
	require.True(t, ok)
	assert.Equal(t, domain.EntityStateUnknown, pool.State)
}

func TestStore_UpsertUnknownKey(t *testing.T) {
	store := NewStore()

	_, err := store.Upsert(domain.EntityKindSite, "missing", func(s *domain.EntityStatus) {})

	assert.True(t, errors.IsNotFoundError(err))
}

func TestStore_UpsertKeepsIdentity(t *testing.T) {
	store := NewStore()
	store.Reconcile(snapshot([]string{"S1"}, nil))

	status, err := store.Upsert(domain.EntityKindSite, "S1", func(s *domain.EntityStatus) {
		s.Name = "renamed"
		s.Kind = domain.EntityKindAppPool
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EntityKey{Kind: domain.EntityKindSite, Name: "S1"}, status.Key())
}

func TestStore_ConcurrentUpsertsAreAtomic(t *testing.T) {
	store := NewStore()
	store.Reconcile(snapshot([]string{"S1"}, nil))

	const workers = 50
	const perWorker = 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := store.Upsert(domain.EntityKindSite, "S1", func(s *domain.EntityStatus) {
					s.TotalChecks++
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	status, _ := store.Get(domain.EntityKindSite, "S1")
	assert.Equal(t, workers*perWorker, status.TotalChecks)
}
