// Package store defines the persistence contract for capture jobs and their
// per-task outcomes. Implementations live under internal/storage; this package
// must not import database drivers or concrete clients.
package store
