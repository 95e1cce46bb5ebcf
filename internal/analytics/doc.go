// Package analytics implements an embedded, append-only interaction log
// with date-based partitioning, write batching, and a read-side
// query/aggregation engine.
//
// Architecture:
//
//	┌──────────┐     ┌──────────────┐     ┌─────────────────┐
//	│ LogEvent │────▶│ Write Buffer │────▶│ Partition Store │
//	└──────────┘     │ (per date)   │     │ (NDJSON / date) │
//	                 └──────────────┘     └─────────────────┘
//	                        │ flush barrier        │ load
//	                        ▼                      ▼
//	                 ┌──────────────────────────────────┐
//	                 │           Query Engine           │
//	                 │ range scan → filter → aggregate  │
//	                 └──────────────────────────────────┘
//
// Events are buffered per UTC date and flushed as a single append when a
// batch threshold is reached or a timer elapses. Queries flush all buffers
// first so reads reflect every prior enqueue, then load and aggregate the
// covered partitions. Partitions are append-only and never rewritten; the
// optional archive package exports them to Parquet without touching the
// source files.
package analytics
