package kpimap

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"adsync/pkg/records"
)

// RowQuerier is the slice of the warehouse client the resolver reads
// through.
type RowQuerier interface {
	QueryRows(ctx context.Context, query string) ([]records.Record, error)
}

// Resolver answers "which event code does this KPI name mean for this
// account" from a cached read of the whole mapping table. The table is
// small; the first lookup after construction or Invalidate loads it in
// full.
type Resolver struct {
	store RowQuerier
	table string
	now   func() time.Time

	mu       sync.Mutex
	byKey    map[string]string
	loadedAt time.Time
}

// NewResolver builds a resolver over the given mapping table.
func NewResolver(store RowQuerier, table string) *Resolver {
	return &Resolver{store: store, table: table, now: time.Now}
}

// Resolve returns the event code for kpiName in accountID's scope. An
// account-specific mapping wins over an "all" mapping; a name mapped in
// neither scope returns ("", false) with a nil error. The error is
// non-nil only when the cache cannot be (re)loaded.
func (r *Resolver) Resolve(ctx context.Context, accountID, kpiName string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byKey == nil {
		if err := r.load(ctx); err != nil {
			return "", false, err
		}
	}
	acct := strings.TrimPrefix(accountID, "act_")
	if code, ok := r.byKey[acct+":"+kpiName]; ok {
		return code, true, nil
	}
	code, ok := r.byKey[AccountAll+":"+kpiName]
	return code, ok, nil
}

// Invalidate drops the cached rows. The next Resolve reloads the table.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey = nil
	r.loadedAt = time.Time{}
}

// LastLoadedAt reports when the cache was last filled; zero when it has
// never loaded or was invalidated since.
func (r *Resolver) LastLoadedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadedAt
}

// load fills the cache from the table. Caller holds r.mu.
func (r *Resolver) load(ctx context.Context) error {
	q := fmt.Sprintf("SELECT ad_account_id, user_friendly_name, meta_action_type FROM %s", r.table)
	rows, err := r.store.QueryRows(ctx, q)
	if err != nil {
		return fmt.Errorf("kpimap: load mappings from %s: %w", r.table, err)
	}
	byKey := make(map[string]string, len(rows))
	for _, rec := range rows {
		key := rec.String("ad_account_id") + ":" + rec.String("user_friendly_name")
		byKey[key] = rec.String("meta_action_type")
	}
	r.byKey = byKey
	r.loadedAt = r.now()
	log.Printf("kpimap: cached %d mappings from %s", len(byKey), r.table)
	return nil
}
