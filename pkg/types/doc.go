// Package types defines the core data structures for the conductor engine.
//
// This package contains all the fundamental types shared across the engine,
// including:
//   - Task specification, priority and lifecycle status
//   - Worker snapshots and status
//   - Model descriptors loaded from the catalog
//   - Per-backend execution outcomes and consensus results
//   - Performance statistics snapshots
package types
