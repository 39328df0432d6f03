// Package genealogy defines the core types shared across the crawler
// subsystems: person nodes, advisor edges, per-ID work items and the
// interfaces the engine composes (fetcher, parser, stores, publishers).
package genealogy
