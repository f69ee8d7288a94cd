// Package tidemark incrementally extracts records from the Visma.net ERP API
// and from spreadsheets in Google Drive folders and loads them into a
// destination, remembering how far each stream got between runs.
//
// # Architecture
//
// A run is driven by internal/pipeline.Runner:
//
//  1. Each enabled source (pkg/connector/sources/erp, pkg/connector/sources/gdrive)
//     lists its streams.
//  2. For every stream the runner loads the stored watermarks
//     (pkg/watermark), opens a lazy page iterator and hands each page to the
//     sink (pkg/connector/destinations/...).
//  3. Only after a stream finishes without error are its advanced watermarks
//     saved, so a failed stream is retried from the same point next run.
//
// ERP streams keep one watermark per tenant. The general ledger stream falls
// back to walking financial periods backwards when its watermark is older
// than the configured lookback.
//
// # Quick Start
//
//	tidemark run --config tidemark.yaml
//	tidemark run --config tidemark.yaml --streams customer,supplier --dry-run
//	tidemark streams --config tidemark.yaml
//
// A minimal configuration:
//
//	erp:
//	  enabled: true
//	  client_id: ${VISMA_CLIENT_ID}
//	  client_secret: ${VISMA_CLIENT_SECRET}
//	  tenant_ids: ["1234567"]
//	destination:
//	  type: postgres
//	  dsn: ${TIDEMARK_DSN}
//	state:
//	  type: file
//	  path: tidemark_state.json
//
// # Destinations
//
//   - jsonl: one JSON-lines file per table, optionally gzip compressed
//   - postgres: a jsonb document table per stream, upserted for merge streams
//   - gcs: one object per page under <prefix>/<table>/dt=YYYY-MM-DD/
//   - kafka: one message per row on <topic_prefix><table>
//   - mongodb: one collection per table, replaced by key for merge streams
//
// # Packages
//
//   - pkg/config: YAML plus TIDEMARK_* environment configuration
//   - pkg/errors: typed errors shared by every component
//   - pkg/clients: instrumented HTTP client, retry policy and token cache
//   - pkg/watermark: watermark comparison, tracking and stores
//   - pkg/logger, pkg/metrics, pkg/observability: zap, Prometheus and OpenTelemetry
package tidemark
