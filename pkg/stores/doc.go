// Package stores persists execution history. Every execute call becomes one
// row in executions plus one row per round trip in attempts, so failed
// requests can be inspected after the fact.
package stores
