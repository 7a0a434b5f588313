package models

import (
	"encoding/json"
	"time"
)

// DateLayout is the wire format for period bounds in the WB API.
const DateLayout = "2006-01-02"

// Period is an inclusive reporting window. Bounds are date-valued;
// callers construct it once per run and never mutate it.
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) StartStr() string { return p.Start.Format(DateLayout) }
func (p Period) EndStr() string   { return p.End.Format(DateLayout) }

// SearchTextRow is one persisted observation of a search phrase for a
// product card. Identity is (period_start, period_end, top_order_by,
// nm_id, search_text); everything else is overwritten on conflict.
// Ratio fields are percentages, matching what WB reports.
type SearchTextRow struct {
	LoadDttm    time.Time
	PeriodStart time.Time
	PeriodEnd   time.Time
	TopOrderBy  string
	NmID        int64
	SearchText  string

	AvgPosition *float64
	OpenCard    *int64
	AddToCart   *int64
	Orders      *int64
	OpenToCart  *float64
	CartToOrder *float64
	OpenToOrder *float64

	// Original API item, kept only when raw retention is enabled.
	Raw json.RawMessage
}

// VariantSummary counts one ranking variant's pass over all batches.
type VariantSummary struct {
	OrderBy  string
	Items    int
	Rows     int
	Upserted int
}

// RunSummary is the observational result of a whole run. Logged, never
// persisted.
type RunSummary struct {
	Variants []VariantSummary
	Pruned   int64
}

func (s RunSummary) TotalItems() int {
	n := 0
	for _, v := range s.Variants {
		n += v.Items
	}
	return n
}

func (s RunSummary) TotalUpserted() int {
	n := 0
	for _, v := range s.Variants {
		n += v.Upserted
	}
	return n
}
