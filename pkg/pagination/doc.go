// Package pagination provides cursor-based paging over record sets keyed by a strictly
// increasing identifier.
//
// A Paginator pulls bounded pages from a PageSource and advances an in-memory cursor to
// the last identifier of every non-empty page. The next request starts strictly after
// that identifier, so a record the cursor has passed is never returned again.
//
// Example usage:
//
//	p, err := pagination.New(source, 40, func(c Candidate) int64 { return c.MovieID })
//	for {
//		page, err := p.Next(ctx)
//		if err != nil {
//			return err
//		}
//		if len(page) == 0 {
//			break // exhausted
//		}
//		process(page)
//	}
//
// The paginator:
//   - Returns an empty page exactly once the source has nothing after the cursor
//   - Never retries; source errors are returned to the caller unchanged (wrapped)
//   - Rejects pages whose keys do not strictly increase (ErrCursorRegression)
//   - Keeps the cursor in memory only; a new Paginator starts from the beginning
package pagination
