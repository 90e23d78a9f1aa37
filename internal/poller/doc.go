// Package poller provides the HTTP transport and worker pool behind the
// saralmitti result poller.
//
// The main components are:
//
//   - [Client]: HTTP client wrapper with per-request timeouts and size limits
//   - [Pool]: Runs a batch of tasks on a bounded set of workers with panic recovery
//
// Users of the saralmitti library should not need to interact with this
// package directly.
package poller
