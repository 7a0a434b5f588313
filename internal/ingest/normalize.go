package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/sellerlab/wb-search-sync/internal/models"
	"github.com/sellerlab/wb-search-sync/internal/wbapi"
)

// BuildRows turns raw API items into canonical rows. Items without an
// identifier or a non-empty search phrase are dropped; malformed metric
// values resolve to absent, never to an error. Missing conversion ratios
// are derived in percentage units when the denominator is positive.
func BuildRows(period models.Period, orderBy string, items []wbapi.RawItem, loadedAt time.Time, keepRaw bool) []models.SearchTextRow {
	rows := make([]models.SearchTextRow, 0, len(items))
	for _, it := range items {
		nmID, ok := itemNmID(it)
		if !ok {
			continue
		}
		text := itemText(it)
		if text == "" {
			continue
		}

		row := models.SearchTextRow{
			LoadDttm:    loadedAt,
			PeriodStart: period.Start,
			PeriodEnd:   period.End,
			TopOrderBy:  orderBy,
			NmID:        nmID,
			SearchText:  text,
			AvgPosition: floatField(it, "avgPosition"),
			OpenCard:    intField(it, "openCard"),
			AddToCart:   intField(it, "addToCart"),
			Orders:      intField(it, "orders"),
			OpenToCart:  floatField(it, "openToCart"),
			CartToOrder: floatField(it, "cartToOrder"),
			OpenToOrder: floatField(it, "openToOrder"),
		}
		deriveRatios(&row)

		if keepRaw {
			if b, err := json.Marshal(it); err == nil {
				row.Raw = b
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// deriveRatios fills in conversion percentages WB omitted, from the
// already-resolved counts.
func deriveRatios(r *models.SearchTextRow) {
	if r.OpenToCart == nil {
		r.OpenToCart = ratioPct(r.AddToCart, r.OpenCard)
	}
	if r.CartToOrder == nil {
		r.CartToOrder = ratioPct(r.Orders, r.AddToCart)
	}
	if r.OpenToOrder == nil {
		r.OpenToOrder = ratioPct(r.Orders, r.OpenCard)
	}
}

func ratioPct(num, den *int64) *float64 {
	if num == nil || den == nil || *den <= 0 {
		return nil
	}
	v := float64(*num) / float64(*den) * 100
	return &v
}

// itemNmID accepts both field spellings WB has used for the identifier.
func itemNmID(it wbapi.RawItem) (int64, bool) {
	for _, key := range []string{"nmId", "nmID"} {
		if f, ok := coerceNumber(it[key]); ok && f > 0 {
			return int64(f), true
		}
	}
	return 0, false
}

func itemText(it wbapi.RawItem) string {
	s, _ := it["text"].(string)
	return strings.TrimSpace(s)
}

func floatField(it wbapi.RawItem, key string) *float64 {
	f, ok := coerceNumber(it[key])
	if !ok {
		return nil
	}
	return &f
}

func intField(it wbapi.RawItem, key string) *int64 {
	f, ok := coerceNumber(it[key])
	if !ok {
		return nil
	}
	n := int64(f)
	return &n
}

// coerceNumber resolves an upstream metric value with a fixed fallback
// order: bare number, numeric string, then wrapper object checked for
// "current" and "value". Anything else is absent.
func coerceNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case map[string]any:
		if f, ok := coerceNumber(t["current"]); ok {
			return f, true
		}
		return coerceNumber(t["value"])
	default:
		return 0, false
	}
}
