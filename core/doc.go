// Package core defines the domain model shared by the logwarden detection paths.
//
// # Architecture Overview
//
// The core package provides:
//   - Domain types (Event, Rule, Condition, Alert, Anomaly, UnifiedAlert)
//   - The closed field and operator sets a rule condition may reference
//   - Severity classification for anomaly scores
//   - Error kinds shared by the storage, detection and ML layers
//   - A generic worker pool for background passes
//
// # Design Principles
//
//  1. Interfaces defined where used (consumer package), not where implemented
//  2. Accept interfaces, return concrete types
//  3. context.Context as first parameter for anything touching a store
//  4. Sentinel errors wrapped with %w and checked with errors.Is
package core
