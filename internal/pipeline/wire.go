package pipeline

import (
	"context"
	"fmt"
	"time"

	"adsync/internal/config"
	"adsync/internal/kpimap"
	"adsync/internal/schema"
	"adsync/internal/source/httpds"
	"adsync/internal/source/metaads"
	"adsync/internal/warehouse"
)

// openWarehouse is swapped in tests.
var openWarehouse = warehouse.Open

// BuildRunner wires a Runner from configuration: warehouse client, batch
// loader, Graph API source, and KPI mapping synchronizer. The returned
// cleanup closes the warehouse client and must be called once the runner
// is no longer needed.
//
// Backends resolve through the warehouse registry, so callers must ensure
// the configured kind is registered (cmd binaries blank-import
// warehouse/all).
func BuildRunner(ctx context.Context, cfg *config.Config) (*Runner, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("pipeline: config must not be nil")
	}

	client, err := openWarehouse(ctx, cfg.WarehouseConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: open warehouse: %w", err)
	}
	fail := func(err error) (*Runner, func(), error) {
		client.Close()
		return nil, nil, err
	}

	reg := schema.Default()
	loader, err := warehouse.NewLoader(client, reg, cfg.Pipeline.BatchSize)
	if err != nil {
		return fail(err)
	}

	// The Graph API client sends exactly the fields it is configured with,
	// so hand it the full insights column list up front.
	cols, err := reg.Columns(schema.Insights)
	if err != nil {
		return fail(err)
	}
	fields := make([]string, len(cols))
	for i, c := range cols {
		fields[i] = c.Name
	}

	src, err := metaads.NewClient(httpds.NewClient(httpds.Config{}), metaads.Config{
		AccessToken: cfg.Facebook.AccessToken,
		Fields:      fields,
		ChunkDays:   cfg.Pipeline.ChunkDays,
		ChunkDelay:  time.Duration(cfg.Pipeline.DelaySeconds * float64(time.Second)),
	})
	if err != nil {
		return fail(err)
	}

	resolver := kpimap.NewResolver(client, cfg.Warehouse.KPIMappingTable)
	syncer, err := kpimap.NewSynchronizer(src, client, reg, kpimap.SyncConfig{
		Table:     cfg.Warehouse.KPIMappingTable,
		BatchSize: cfg.Pipeline.BatchSize,
		Resolver:  resolver,
	})
	if err != nil {
		return fail(err)
	}

	r, err := NewRunner(cfg, reg, Deps{
		Source:  src,
		Loader:  loader,
		Syncer:  syncer,
		Queries: client,
	})
	if err != nil {
		return fail(err)
	}
	return r, func() { client.Close() }, nil
}
