package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSortOrder(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string returns DESC", "", "DESC"},
		{"ASC uppercase returns ASC", "ASC", "ASC"},
		{"asc lowercase returns ASC", "asc", "ASC"},
		{"DESC uppercase returns DESC", "DESC", "DESC"},
		{"invalid value returns DESC", "INVALID", "DESC"},
		{"sql injection attempt returns DESC", "ASC; DROP TABLE ledger_postings;--", "DESC"},
		{"whitespace only returns DESC", "   ", "DESC"},
		{"whitespace around ASC returns ASC", "  asc  ", "ASC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateSortOrder(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestValidateSortField(t *testing.T) {
	allowedFields := map[string]bool{
		"id":         true,
		"created_at": true,
		"updated_at": true,
		"name":       true,
	}

	tests := []struct {
		name         string
		input        string
		allowedMap   map[string]bool
		defaultField string
		expected     string
	}{
		{"empty string returns default", "", allowedFields, "created_at", "created_at"},
		{"valid field returns field", "name", allowedFields, "created_at", "name"},
		{"valid field id returns field", "id", allowedFields, "created_at", "id"},
		{"invalid field returns default", "invalid_field", allowedFields, "created_at", "created_at"},
		{"sql injection attempt returns default", "id; DROP TABLE invoices;--", allowedFields, "created_at", "created_at"},
		{"case sensitive - uppercase invalid", "NAME", allowedFields, "created_at", "created_at"},
		{"whitespace only returns default", "   ", allowedFields, "created_at", "created_at"},
		{"whitespace around valid field returns field", "  name  ", allowedFields, "created_at", "name"},
		{"field with spaces injection returns default", "name invoices", allowedFields, "created_at", "created_at"},
		{"field with quotes injection returns default", "name'--", allowedFields, "created_at", "created_at"},
		{"empty default with valid field", "name", allowedFields, "", "name"},
		{"empty default with invalid field", "invalid", allowedFields, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateSortField(tt.input, tt.allowedMap, tt.defaultField)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRepositorySortWhitelists(t *testing.T) {
	// Every repository whitelist must expose the base audit columns and
	// never be empty, or pagination silently loses its ordering options.
	whitelists := map[string]map[string]bool{
		"accountSortFields": accountSortFields,
		"postingSortFields": postingSortFields,
		"invoiceSortFields": invoiceSortFields,
	}

	for name, whitelist := range whitelists {
		t.Run(name+" contains created_at", func(t *testing.T) {
			assert.True(t, whitelist["created_at"], "%s should contain 'created_at'", name)
		})
		t.Run(name+" is not empty", func(t *testing.T) {
			assert.Greater(t, len(whitelist), 2, "%s should have more than 2 fields", name)
		})
	}

	assert.True(t, postingSortFields["transaction_date"])
	assert.True(t, invoiceSortFields["invoice_number"])
}

func TestSQLInjectionPrevention(t *testing.T) {
	injectionPayloads := []string{
		"id; DROP TABLE billing_accounts;--",
		"id' OR '1'='1",
		"id\"; DROP TABLE invoices;--",
		"id UNION SELECT * FROM outbox_events",
		"id ORDER BY 1",
		"id, (SELECT event_payload FROM outbox_events)",
		"CASE WHEN 1=1 THEN id ELSE name END",
		"id/**/;DROP TABLE ledger_postings",
		"id\n; DROP TABLE ledger_postings",
		"' OR ''='",
	}

	for _, payload := range injectionPayloads {
		t.Run("field: "+payload[:min(len(payload), 30)], func(t *testing.T) {
			result := ValidateSortField(payload, accountSortFields, "created_at")
			assert.Equal(t, "created_at", result, "payload should be rejected: %s", payload)
		})

		t.Run("order: "+payload[:min(len(payload), 30)], func(t *testing.T) {
			result := ValidateSortOrder(payload)
			assert.Equal(t, "DESC", result, "payload should be rejected: %s", payload)
		})
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
