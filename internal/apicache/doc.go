// Package apicache is the store-level result cache that sits between
// interactive autocomplete requests and the slow Jinxxy products API.
//
// Reads never block once a store has been seen: ApiCache returns whatever
// Snapshot is in memory, however stale, and asks the background workers to
// refresh it. Two workers keep the cache warm:
//
//   - the high priority worker refreshes a single store on demand, shortly
//     after a read observed a snapshot older than the high priority expiry;
//   - the low priority worker re-warms every registered store on a long cycle,
//     ordered by snapshot age, fetching one product at a time.
//
// Each tier has exactly one consumer, so at most one refresh per tier is ever
// talking to the upstream API. Snapshots are immutable; a refresh swaps the
// whole Snapshot for a store atomically.
package apicache
