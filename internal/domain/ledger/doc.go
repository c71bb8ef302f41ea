// Package ledger holds the commerce ledger model: shops, orders with their
// lines, refunds and payment transactions, cost snapshots, daily rollups and
// the bookkeeping entities for webhook admission and historical backfills.
//
// The package is persistence agnostic. Repositories and external
// collaborators (inventory cost source, exchange-rate source, bulk exporter)
// are declared here as interfaces and implemented in infrastructure.
package ledger
