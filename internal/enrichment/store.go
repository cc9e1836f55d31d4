package enrichment

import (
	"context"
	"sync"

	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chestguard/chestguard/internal/datastore"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
)

// QuotaName is the row or cache key holding the shared quota.
const QuotaName = "gemini"

// conflictAttempts bounds retries of a reservation that lost a race with
// another instance.
const conflictAttempts = 5

var errQuotaConflict = errors.NewStd("quota row changed concurrently")

// CounterStore persists the limiter state.
type CounterStore interface {
	// Load returns the stored quota, or a zero Quota when none exists.
	Load(ctx context.Context) (Quota, error)
	// Update passes the stored quota to fn and stores the modified value
	// when fn returns true. Load and store are atomic with respect to
	// other callers of the same store.
	Update(ctx context.Context, fn func(q *Quota) bool) (Quota, error)
}

// MemoryStore keeps the quota in a process-local go-cache.
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewMemoryStore returns an empty store. Entries never expire.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: cache.New(cache.NoExpiration, 0)}
}

// Load implements CounterStore.
func (s *MemoryStore) Load(_ context.Context) (Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(), nil
}

// Update implements CounterStore.
func (s *MemoryStore) Update(_ context.Context, fn func(q *Quota) bool) (Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.get()
	if fn(&q) {
		s.cache.Set(QuotaName, q, cache.NoExpiration)
	}
	return q, nil
}

func (s *MemoryStore) get() Quota {
	if v, ok := s.cache.Get(QuotaName); ok {
		if q, ok := v.(Quota); ok {
			return q
		}
	}
	return Quota{}
}

// DatabaseStore keeps the quota in the enrichment_quota table so every
// instance sharing the database shares one limit. Updates are conditional
// on the row version read inside the same transaction.
type DatabaseStore struct {
	db   *gorm.DB
	name string
}

// NewDatabaseStore returns a store over db. The table is migrated with the
// rest of the datastore models.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db, name: QuotaName}
}

// Load implements CounterStore.
func (s *DatabaseStore) Load(ctx context.Context) (Quota, error) {
	var row datastore.EnrichmentQuota
	res := s.db.WithContext(ctx).
		Where(map[string]any{"name": s.name}).
		Limit(1).
		Find(&row)
	if res.Error != nil {
		return Quota{}, quotaDBError(res.Error, "load")
	}
	if res.RowsAffected == 0 {
		return Quota{}, nil
	}
	return quotaFromRow(&row), nil
}

// Update implements CounterStore.
func (s *DatabaseStore) Update(ctx context.Context, fn func(q *Quota) bool) (Quota, error) {
	var lastErr error
	for attempt := range conflictAttempts {
		q, err := s.updateOnce(ctx, fn)
		if err == nil {
			return q, nil
		}
		if !errors.Is(err, errQuotaConflict) && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return Quota{}, quotaDBError(err, "update")
		}
		lastErr = err
		GetLogger().Debug("quota update raced with another instance, retrying",
			logger.Int("attempt", attempt+1))
	}
	return Quota{}, quotaDBError(lastErr, "update")
}

func (s *DatabaseStore) updateOnce(ctx context.Context, fn func(q *Quota) bool) (Quota, error) {
	var out Quota
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() != "sqlite" {
			q = tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
		}

		row := datastore.EnrichmentQuota{Name: s.name}
		if err := q.Where(map[string]any{"name": s.name}).FirstOrCreate(&row).Error; err != nil {
			return err
		}

		out = quotaFromRow(&row)
		if !fn(&out) {
			return nil
		}

		updates := map[string]any{
			"last_call_at": out.LastCallAt,
			"day":          out.Day,
			"calls":        out.Calls,
			"version":      row.Version + 1,
		}
		res := tx.Model(&datastore.EnrichmentQuota{}).
			Where(map[string]any{"name": s.name, "version": row.Version}).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errQuotaConflict
		}
		return nil
	})
	return out, err
}

func quotaFromRow(row *datastore.EnrichmentQuota) Quota {
	q := Quota{Day: row.Day, Calls: row.Calls}
	if row.LastCallAt != nil {
		q.LastCallAt = *row.LastCallAt
	}
	return q
}

func quotaDBError(err error, operation string) error {
	return errors.New(err).
		Component("enrichment").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Context("quota", QuotaName).
		Build()
}
