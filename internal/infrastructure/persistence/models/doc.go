// Package models contains GORM-specific persistence models that map to
// database tables. They are kept separate from domain entities so the domain
// layer stays free of ORM tags and table concerns.
//
// Structure:
// - base.go: shared aggregate persistence fields and mapping helpers
// - ledger.go: billing account and ledger posting models
// - invoice.go: invoice and invoice line item models
// - outbox.go: transactional outbox model for event delivery
package models
