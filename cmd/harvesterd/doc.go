// Package main hosts the content harvester service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, job management, and direct-save endpoints. Requests are
//     validated, normalized into job payloads, and persisted via the JobStore before entering the scheduler queue.
//   - Scheduler: jobs wait in an in-memory queue and are promoted by a polling dispatch loop bounded by
//     scheduler.concurrency. Failed attempts re-enter the queue front after a capped exponential backoff; retries
//     whose work is already pending are dropped. Context cancellation drains in-flight work on shutdown.
//   - Crawl pipeline: the orchestrator sleeps a jittered politeness delay, builds a rotating request identity, tries
//     the content-only JSON variant of the page first, and classifies the terminal response into a success record or
//     one of the closed failure classes. The session fetcher negotiates the site's cookie challenges (legacy embedded
//     token or redirect Set-Cookie) with at most one replay per fetch.
//   - Persistence & fanout: parsed content upserts into the entity store keyed by (kind, source id); raw response
//     bodies are archived to the configured BlobStore (memory/local/GCS) for later re-extraction. Entity and job state
//     live in Postgres when db.dsn is set, in memory otherwise. Lifecycle events fan out through the notify hub and,
//     when a project is configured, bridge to a Pub/Sub topic.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     collectors are exported on /metrics.
//
// Operational notes:
//   - Concurrency model: single-process polling scheduler with a fixed in-flight ceiling; no cross-instance
//     coordination, so run exactly one replica against a given job store.
//   - Recovery: jobs stranded in processing by a crash are not resumed on start. The hourly cleanup job (also
//     submittable on demand) marks them failed and prunes terminal jobs past scheduler.retention_hours.
//   - Observability: zap logs carry job ids and source ids at state transitions; Prometheus tracks crawl outcomes by
//     class, fetch latency, queue depth, and in-flight count.
//
// Quick checklist:
//   - Configure env vars: HARVESTER_UPSTREAM_BASE_URL (required), HARVESTER_UPSTREAM_COOKIE_MODE=legacy|new,
//     HARVESTER_SCHEDULER_CONCURRENCY, storage (HARVESTER_STORAGE_*), pubsub, and HARVESTER_DB_DSN when persistence
//     beyond memory is required.
//   - Run locally: go run ./cmd/harvesterd -config config.yaml (or rely solely on env overrides).
package main
