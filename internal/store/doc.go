// Package store declares the repository used to persist crawl run progress.
// Implementations live in other packages; this package must not import
// database drivers or concrete clients.
package store
