// Package cmd defines and implements the CLI commands for the disclosure-monitor executable.
//
// Architecture overview:
//   - Crawl: internal/crawler.Engine owns the (year, month, market, page) cursor. Each list page is fetched through
//     the Colly client, its candidates are fanned out to a small worker pool for detail fetch and parse, and the
//     results are written one at a time on the control goroutine before the cursor is saved.
//   - Persistence: internal/ingest.Writer normalizes each record, matches it against the keyword list and writes the
//     disclosure with its alerts in one Postgres transaction. Alerts are also published to Pub/Sub when a topic is
//     configured. Detail pages that cannot be parsed are quarantined to the configured blob store.
//   - Daily feed and rescan: the open-data feeds are ingested on a cron schedule by serve, or once via daily. rescan
//     backfills alerts after the keyword list changes.
//   - Ops API: internal/api serves health, readiness, metrics, the current checkpoint, recent alerts, run history and
//     an async rescan trigger.
//
// Operational notes:
//   - A block page from the archive ends the crawl with a non-zero exit. Wait for the cooldown before resuming; the
//     cursor is never advanced past the page that was blocked.
//   - Every run is recorded in crawl_runs with its summary and final status.
//   - Configure with a YAML file passed to --config, a .env file, or DISCLOSURE_* environment variables
//     (DATABASE_URL and BACKFILL_TARGET_YEAR are honored too). Apply the schema with migrate before the first run.
package cmd
