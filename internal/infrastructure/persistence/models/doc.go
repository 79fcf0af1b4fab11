// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Structure:
// - base.go: base persistence models (BaseModel, AggregateModel)
// - enrollment.go: training groups, students, contracts
// - ledger.go: transactions and paid-period claims
// - access.go: gate logs
//
// Every unique index declared here is mirrored in migrations/ and is relied on by the
// application for correctness, not only for speed.
package models
