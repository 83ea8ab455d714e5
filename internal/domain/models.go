// internal/domain/models.go
package domain

import "time"

// RawRow is one stock line as read from a snapshot spreadsheet, before cleaning.
// Nil numeric fields mean the cell was empty or not a number; the Text fields
// keep the cell as read so the two cases can be told apart.
type RawRow struct {
	Line         int
	Item         string
	Description  string
	Manufacturer string
	Quantity     *float64
	Price        *float64
	QuantityText string
	PriceText    string
}

// SnapshotBatch is the content of one snapshot file for one warehouse.
type SnapshotBatch struct {
	Warehouse string
	Source    string
	// DateCell is the raw text of the snapshot date cell. Date is set instead
	// when the reader already got a typed date.
	DateCell string
	Date     *time.Time
	// FallbackTime is used when the date cell is missing or unparseable.
	FallbackTime time.Time
	Rows         []RawRow
}

// Observation is one cleaned stock count per (item, warehouse, day).
type Observation struct {
	Date         time.Time `json:"date" db:"date"`
	Item         string    `json:"item" db:"item"`
	Warehouse    string    `json:"warehouse" db:"warehouse"`
	Quantity     float64   `json:"quantity" db:"quantity"`
	Price        float64   `json:"price" db:"price"`
	Description  string    `json:"description" db:"description"`
	Manufacturer string    `json:"manufacturer" db:"manufacturer"`
	Source       string    `json:"source" db:"-"`
}

// DailyDelta is the change in on-hand quantity between two consecutive
// observations of the same item at the same warehouse.
type DailyDelta struct {
	Date      time.Time `json:"date" db:"date"`
	Item      string    `json:"item" db:"item"`
	Warehouse string    `json:"warehouse" db:"warehouse"`
	Quantity  float64   `json:"quantity" db:"quantity"`
	Price     float64   `json:"price" db:"price"`
	Delta     float64   `json:"delta" db:"delta"`
	Sold      float64   `json:"sold" db:"sold"`
	Restocked float64   `json:"restocked" db:"restocked"`
}

// TransferEvent is a matched pair of opposite deltas at two warehouses.
type TransferEvent struct {
	Date          time.Time `json:"date" db:"date"`
	Item          string    `json:"item" db:"item"`
	FromWarehouse string    `json:"from_warehouse" db:"from_warehouse"`
	ToWarehouse   string    `json:"to_warehouse" db:"to_warehouse"`
	Quantity      float64   `json:"quantity" db:"quantity"`
	// Ambiguous marks events produced while more than one candidate pair
	// matched the same (date, item, quantity).
	Ambiguous bool `json:"ambiguous" db:"ambiguous"`
}

// PeriodAggregate is the monthly rollup for one item at one warehouse.
type PeriodAggregate struct {
	Item             string  `json:"item" db:"item"`
	Warehouse        string  `json:"warehouse" db:"warehouse"`
	Year             int     `json:"year" db:"year"`
	Month            int     `json:"month" db:"month"`
	Description      string  `json:"description" db:"description"`
	Manufacturer     string  `json:"manufacturer" db:"manufacturer"`
	TotalSold        float64 `json:"total_sold" db:"total_sold"`
	TotalRestocked   float64 `json:"total_restocked" db:"total_restocked"`
	DaysWithSales    int     `json:"days_with_sales" db:"days_with_sales"`
	DaysInStock      int     `json:"days_in_stock" db:"days_in_stock"`
	UniqueDays       int     `json:"unique_days" db:"unique_days"`
	LastQuantity     float64 `json:"last_quantity" db:"last_quantity"`
	MeanPrice        float64 `json:"mean_price" db:"mean_price"`
	MinPrice         float64 `json:"min_price" db:"min_price"`
	MaxPrice         float64 `json:"max_price" db:"max_price"`
	OpeningPrice     float64 `json:"opening_price" db:"opening_price"`
	ClosingPrice     float64 `json:"closing_price" db:"closing_price"`
	PriceChange      float64 `json:"price_change" db:"price_change"`
	PriceChangePct   float64 `json:"price_change_pct" db:"price_change_pct"`
	PriceChangeCount int     `json:"price_change_count" db:"price_change_count"`
	Turnover         float64 `json:"turnover" db:"turnover"`
}

// RollingSpike is the rolling-baseline verdict for one month.
type RollingSpike struct {
	Year           int     `json:"year" db:"year"`
	Month          int     `json:"month" db:"month"`
	Item           string  `json:"item" db:"item"`
	Warehouse      string  `json:"warehouse" db:"warehouse"`
	Description    string  `json:"description" db:"description"`
	TotalSold      float64 `json:"total_sold" db:"total_sold"`
	Baseline       float64 `json:"baseline" db:"baseline"`
	HasBaseline    bool    `json:"has_baseline" db:"has_baseline"`
	Window         int     `json:"window" db:"window_size"`
	Factor         float64 `json:"factor" db:"factor"`
	MeanPrice      float64 `json:"mean_price" db:"mean_price"`
	PriceChangePct float64 `json:"price_change_pct" db:"price_change_pct"`
	IsSpike        bool    `json:"is_spike" db:"is_spike"`
}

// DailySpike is the statistical verdict for one day of one series.
type DailySpike struct {
	Date        time.Time `json:"date" db:"date"`
	Item        string    `json:"item" db:"item"`
	Warehouse   string    `json:"warehouse" db:"warehouse"`
	Description string    `json:"description" db:"description"`
	Sold        float64   `json:"sold" db:"sold"`
	Mean        float64   `json:"mean" db:"mean"`
	StdDev      float64   `json:"std_dev" db:"std_dev"`
	Count       int       `json:"count" db:"sample_count"`
	Threshold   float64   `json:"threshold" db:"threshold"`
	IsSpike     bool      `json:"is_spike" db:"is_spike"`
}

// ReportRun describes one persisted reconciliation run.
type ReportRun struct {
	ID           string    `json:"id" db:"id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	Observations int       `json:"observations" db:"observations"`
	Transfers    int       `json:"transfers" db:"transfers"`
	Periods      int       `json:"periods" db:"periods"`
}
