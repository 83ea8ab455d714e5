package domain

// ReportFilter narrows dashboard queries. Empty fields mean "no filter".
type ReportFilter struct {
	Warehouses  []string `json:"warehouses"`
	Item        string   `json:"item"`
	Description string   `json:"description"`
	Limit       int      `json:"limit"`
}

// TopItem is one bar of a top-N chart (fast movers or most restocked).
type TopItem struct {
	Warehouse   string  `json:"warehouse" db:"warehouse"`
	Description string  `json:"description" db:"description"`
	Item        string  `json:"item" db:"item"`
	Total       float64 `json:"total" db:"total"`
}

// Dashboard bundles everything the landing page needs in one response.
type Dashboard struct {
	Run        *ReportRun `json:"run"`
	Warehouses []string   `json:"warehouses"`
	FastMovers []TopItem  `json:"fast_movers"`
	TopRestock []TopItem  `json:"top_restocked"`
	SpikeCount int        `json:"spike_count"`
	Transfers  int        `json:"transfers"`
}
