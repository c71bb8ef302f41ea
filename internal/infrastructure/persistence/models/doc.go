// Package models holds the gorm row types of the ledger schema and their
// conversions to and from the domain types in internal/domain/ledger.
//
// Domain types carry no gorm tags. Repositories read and write these models
// only, and convert at the boundary with ToDomain and FromDomain.
package models
