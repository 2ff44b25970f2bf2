package bigquery

import (
	"context"
	"fmt"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/option"

	"adsync/internal/warehouse"
)

// newSDKClient is a test hook that points at the real SDK constructor by
// default. Tests replace it to avoid network access.
var newSDKClient = func(ctx context.Context, cfg warehouse.Config) (*bq.Client, error) {
	var opts []option.ClientOption
	if len(cfg.Credentials) > 0 {
		opts = append(opts, option.WithCredentialsJSON(cfg.Credentials))
	}
	return bq.NewClient(ctx, cfg.Project, opts...)
}

var _ warehouse.Client = (*Client)(nil)

// init registers the "bigquery" backend with the warehouse factory.
func init() {
	warehouse.Register("bigquery", func(ctx context.Context, cfg warehouse.Config) (warehouse.Client, error) {
		if cfg.Project == "" {
			return nil, fmt.Errorf("bigquery: project must be set")
		}
		if cfg.Dataset == "" {
			return nil, fmt.Errorf("bigquery: dataset must be set")
		}
		bqc, err := newSDKClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("bigquery: client: %w", err)
		}
		return NewClient(ctx, bqc, cfg.Project, cfg.Dataset, cfg.Location)
	})
}
