// Package gai bounds the time a caller waits for a blocking, non-cancellable
// address resolution primitive.
//
// Every lookup registers an item in the Resolver's registry and starts a
// detached worker goroutine that calls the primitive. The caller waits on the
// item's own notification channel, recomputing the remaining time from an
// absolute deadline on every wake. When the deadline passes first the item is
// marked timed out and removed; the worker keeps running (it cannot be
// stopped) and, when the primitive eventually returns, finds no item and
// releases the orphaned result itself. A caller never receives a result after
// it has returned, and late results are never written into caller memory.
//
// Timeout always wins over a late success: a worker only records success on
// an item that is still running.
package gai
