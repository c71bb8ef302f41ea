package persistence

import (
	"strings"
)

// ValidateSortOrder validates and normalizes the sort order to ASC or DESC.
// Returns "DESC" as the default if the input is invalid or empty.
func ValidateSortOrder(orderDir string) string {
	normalized := strings.ToUpper(strings.TrimSpace(orderDir))
	if normalized == "ASC" {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField validates the sort field against a whitelist of allowed fields.
// Returns the defaultField if the input is invalid, empty, or not in the whitelist.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed == "" {
		return defaultField
	}
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// OrderSortFields are the order columns a listing may sort by
var OrderSortFields = map[string]bool{
	"processed_at":  true,
	"external_id":   true,
	"gross_revenue": true,
	"net_revenue":   true,
	"net_profit":    true,
	"margin_pct":    true,
	"created_at":    true,
	"updated_at":    true,
}

const defaultOrderSortField = "processed_at"

// orderSortClause builds the ORDER BY for an order listing. external_id
// breaks ties so pages are stable.
func orderSortClause(field, dir string) string {
	field = ValidateSortField(field, OrderSortFields, defaultOrderSortField)
	dir = ValidateSortOrder(dir)
	if field == "external_id" {
		return "external_id " + dir
	}
	return field + " " + dir + ", external_id " + dir
}
