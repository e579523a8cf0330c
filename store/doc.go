// Package store implements the three memory tier stores.
//
// PermanentStore and RollingStore share one sqlite database through
// gorm; SessionStore lives in redis with a TTL lifecycle. All three
// follow the same contract: reads degrade to absence when the backing
// store stays unreachable after bounded retries, while writes surface a
// STORE_UNAVAILABLE error the caller must handle.
package store
