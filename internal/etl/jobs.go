package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/jonathan/marketsync/internal/config"
	"github.com/jonathan/marketsync/internal/gate"
	"github.com/jonathan/marketsync/internal/load"
	"github.com/jonathan/marketsync/internal/oblog"
	"github.com/jonathan/marketsync/internal/seller"
	"github.com/jonathan/marketsync/internal/types"
)

// Stage names, also used in dependency declarations.
const (
	StageCatalog   = "catalog"
	StageInventory = "inventory"
	StageSales     = "sales"
)

// maxSalesPages bounds pagination against a remote cursor that never
// terminates.
const maxSalesPages = 1000

// CatalogJob syncs the product catalog: products report, product rules,
// upsert by offer id.
type CatalogJob struct {
	poller *seller.Poller
	loader *load.Loader
	floor  float64
	log    *oblog.Logger
}

// NewCatalogJob wires the catalog stage. Dependencies are checked here so a
// misassembled stage fails before any network or database work.
func NewCatalogJob(poller *seller.Poller, loader *load.Loader, cfg config.Config, log *oblog.Logger) (*CatalogJob, error) {
	if poller == nil || loader == nil {
		return nil, fmt.Errorf("catalog job requires a poller and a loader")
	}
	return &CatalogJob{poller: poller, loader: loader, floor: cfg.QualityFloor, log: log}, nil
}

func (j *CatalogJob) Name() string { return StageCatalog }

func (j *CatalogJob) Extract(ctx context.Context) ([]seller.Row, error) {
	return j.poller.FetchReport(ctx, seller.ReportProducts, map[string]string{"language": "DEFAULT"})
}

func (j *CatalogJob) Transform(ctx context.Context, rows []seller.Row) ([]types.Product, *gate.Report, error) {
	if err := gate.CheckColumns(rows, gate.ProductColumns); err != nil {
		return nil, nil, err
	}
	return gate.ValidateAndNormalize(rows, gate.ProductFromRow, j.floor, j.log)
}

func (j *CatalogJob) Load(ctx context.Context, records []types.Product) (*load.Result, error) {
	return j.loader.UpsertProducts(ctx, records)
}

// InventoryJob syncs warehouse stock levels: stocks report, stock rules, full
// snapshot refresh.
type InventoryJob struct {
	poller   *seller.Poller
	loader   *load.Loader
	floor    float64
	minRatio float64
	log      *oblog.Logger
}

func NewInventoryJob(poller *seller.Poller, loader *load.Loader, cfg config.Config, log *oblog.Logger) (*InventoryJob, error) {
	if poller == nil || loader == nil {
		return nil, fmt.Errorf("inventory job requires a poller and a loader")
	}
	return &InventoryJob{
		poller:   poller,
		loader:   loader,
		floor:    cfg.QualityFloor,
		minRatio: cfg.MaxRefreshShrink,
		log:      log,
	}, nil
}

func (j *InventoryJob) Name() string { return StageInventory }

func (j *InventoryJob) Extract(ctx context.Context) ([]seller.Row, error) {
	return j.poller.FetchReport(ctx, seller.ReportStocks, nil)
}

func (j *InventoryJob) Transform(ctx context.Context, rows []seller.Row) ([]types.Stock, *gate.Report, error) {
	if err := gate.CheckColumns(rows, gate.StockColumns); err != nil {
		return nil, nil, err
	}
	return gate.ValidateAndNormalize(rows, gate.StockFromRow, j.floor, j.log)
}

func (j *InventoryJob) Load(ctx context.Context, records []types.Stock) (*load.Result, error) {
	return j.loader.RefreshStocks(ctx, records, j.minRatio)
}

// SalesJob syncs recent postings: paginated listing, sale rules, incremental
// insert deduplicated on posting+offer.
type SalesJob struct {
	client   seller.Client
	loader   *load.Loader
	floor    float64
	pageSize int
	lookback time.Duration
	log      *oblog.Logger
	now      func() time.Time
}

func NewSalesJob(client seller.Client, loader *load.Loader, cfg config.Config, log *oblog.Logger) (*SalesJob, error) {
	if client == nil || loader == nil {
		return nil, fmt.Errorf("sales job requires a client and a loader")
	}
	return &SalesJob{
		client:   client,
		loader:   loader,
		floor:    cfg.QualityFloor,
		pageSize: cfg.PageSize,
		lookback: time.Duration(cfg.SalesLookbackDays) * 24 * time.Hour,
		log:      log,
		now:      time.Now,
	}, nil
}

func (j *SalesJob) Name() string { return StageSales }

// Extract walks the posting listing page by page until the cursor runs out.
func (j *SalesJob) Extract(ctx context.Context) ([]seller.Row, error) {
	to := j.now().UTC()
	query := seller.PostingsQuery{
		Since:    to.Add(-j.lookback),
		To:       to,
		PageSize: j.pageSize,
	}

	var rows []seller.Row
	for page := 0; ; page++ {
		if page >= maxSalesPages {
			return nil, &seller.ProtocolError{
				Message: fmt.Sprintf("posting listing did not terminate after %d pages", maxSalesPages),
			}
		}
		result, err := j.client.ListPostings(ctx, query)
		if err != nil {
			return nil, err
		}
		rows = append(rows, result.Items...)
		if result.NextCursor == "" {
			return rows, nil
		}
		query.Cursor = result.NextCursor
	}
}

func (j *SalesJob) Transform(ctx context.Context, rows []seller.Row) ([]types.Sale, *gate.Report, error) {
	// An empty sales window is normal, not a structural failure.
	if len(rows) == 0 {
		return nil, &gate.Report{}, nil
	}
	if err := gate.CheckColumns(rows, gate.SaleColumns); err != nil {
		return nil, nil, err
	}
	return gate.ValidateAndNormalize(rows, gate.SaleFromRow, j.floor, j.log)
}

func (j *SalesJob) Load(ctx context.Context, records []types.Sale) (*load.Result, error) {
	return j.loader.InsertSales(ctx, records)
}
