// Package progress carries crawl run milestones from the engine and workers
// to pluggable sinks (logs, Prometheus, a run repository) without ever
// blocking the crawl itself.
package progress
