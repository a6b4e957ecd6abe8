// Package store defines interfaces for run-history persistence. Implementations
// live in other packages; this package must not import database drivers or
// concrete clients.
package store
