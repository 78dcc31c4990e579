// Package dedupe provides id deduplication using a TTL cache with a size
// bound, used to drop push events that have already been applied.
package dedupe
