package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"adsync/internal/records"
	"adsync/internal/warehouse"
)

// stubWarehouse satisfies warehouse.Client with no-ops so BuildRunner can
// wire against it.
type stubWarehouse struct {
	closed int
}

func (s *stubWarehouse) TableSchema(ctx context.Context, table string) (warehouse.TableSchema, error) {
	return warehouse.TableSchema{}, nil
}

func (s *stubWarehouse) CreateTable(ctx context.Context, table string, ts warehouse.TableSchema) error {
	return nil
}

func (s *stubWarehouse) LoadChunk(ctx context.Context, table string, ts warehouse.TableSchema, recs []records.Record, mode warehouse.WriteMode) error {
	return nil
}

func (s *stubWarehouse) RunQuery(ctx context.Context, query string) (int64, error) {
	return 0, nil
}

func (s *stubWarehouse) QueryRows(ctx context.Context, query string) ([]records.Record, error) {
	return nil, nil
}

func (s *stubWarehouse) DeleteTable(ctx context.Context, table string) error { return nil }

func (s *stubWarehouse) MergeSQL(target, staging string, keys, nonKeys []string) string { return "" }

func (s *stubWarehouse) UpdateMergeSQL(target, staging string, keys, nonKeys []string) string {
	return ""
}

func (s *stubWarehouse) Close() { s.closed++ }

// Tests below swap the openWarehouse seam, so they must not run in
// parallel with each other.

func TestBuildRunner(t *testing.T) {
	stub := &stubWarehouse{}
	var gotCfg warehouse.Config
	orig := openWarehouse
	openWarehouse = func(ctx context.Context, cfg warehouse.Config) (warehouse.Client, error) {
		gotCfg = cfg
		return stub, nil
	}
	defer func() { openWarehouse = orig }()

	cfg := testConfig("act_1")
	r, cleanup, err := BuildRunner(context.Background(), cfg)
	if err != nil {
		t.Fatalf("BuildRunner: %v", err)
	}
	if r == nil {
		t.Fatal("BuildRunner returned nil runner")
	}

	want := cfg.WarehouseConfig()
	if gotCfg.Kind != want.Kind || gotCfg.Dataset != want.Dataset {
		t.Errorf("warehouse config passed through = %+v, want kind=%q dataset=%q", gotCfg, want.Kind, want.Dataset)
	}
	if r.syncer == nil {
		t.Error("runner has no mapping synchronizer")
	}
	if r.queries == nil {
		t.Error("runner has no query runner")
	}

	cleanup()
	if stub.closed != 1 {
		t.Errorf("cleanup closed client %d times, want 1", stub.closed)
	}
}

func TestBuildRunnerOpenFailure(t *testing.T) {
	orig := openWarehouse
	openWarehouse = func(ctx context.Context, cfg warehouse.Config) (warehouse.Client, error) {
		return nil, fmt.Errorf("no backend registered")
	}
	defer func() { openWarehouse = orig }()

	r, cleanup, err := BuildRunner(context.Background(), testConfig("act_1"))
	if err == nil || !strings.Contains(err.Error(), "open warehouse") {
		t.Fatalf("error = %v, want open warehouse wrap", err)
	}
	if r != nil || cleanup != nil {
		t.Errorf("got runner=%v cleanup=%v, want both nil", r, cleanup)
	}
}

func TestBuildRunnerClosesClientOnLaterFailure(t *testing.T) {
	stub := &stubWarehouse{}
	orig := openWarehouse
	openWarehouse = func(ctx context.Context, cfg warehouse.Config) (warehouse.Client, error) {
		return stub, nil
	}
	defer func() { openWarehouse = orig }()

	cfg := testConfig("act_1")
	cfg.Pipeline.BatchSize = 0

	if _, _, err := BuildRunner(context.Background(), cfg); err == nil {
		t.Fatal("BuildRunner succeeded with batch size 0")
	}
	if stub.closed != 1 {
		t.Errorf("client closed %d times after failed build, want 1", stub.closed)
	}
}

func TestBuildRunnerNilConfig(t *testing.T) {
	t.Parallel()

	if _, _, err := BuildRunner(context.Background(), nil); err == nil {
		t.Fatal("BuildRunner accepted nil config")
	}
}
