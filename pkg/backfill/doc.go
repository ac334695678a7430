// Package backfill fills in missing movie metadata from the external metadata API.
//
// One run loops Paginator -> Fetcher -> Persister until storage has no candidate left
// after the cursor:
//
//	driver, _ := backfill.NewDriver(store, fetcher, backfill.NewPersister(store), backfill.DefaultConfig())
//	summary, err := driver.Run(ctx)
//
// Failure handling:
//   - Storage read errors and fetcher errors are fatal and end the run.
//   - A failed API call or a failed write drops that one record from the batch.
//   - Payloads and candidates that do not reconcile are skipped silently.
//
// There are no retries. Re-running is safe: enriched records no longer match the
// candidate filter.
package backfill
