// Package store keeps analysis jobs for the demo backend and fans out job
// updates to live subscribers.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-process implementation with channel pub/sub
//   - [RedisStore]: Redis-backed implementation using keys, a sorted-set
//     index and Redis pub/sub
//   - [Job]: Storage representation of one uploaded image and its analysis
//
// Subscribers receive updates via buffered channels with non-blocking sends;
// a slow subscriber misses updates rather than blocking writers.
package store
