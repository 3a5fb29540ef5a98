// Package storage is the persistent side of the store cache. It keeps the last
// built snapshot rows for every store so a restarted process can rehydrate
// without hitting the upstream API, the runtime-adjustable low priority expiry
// setting, and the API credentials linked to each store. Everything lives in
// Redis; snapshot rows are msgpack encoded.
package storage
