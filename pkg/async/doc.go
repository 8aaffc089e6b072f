// Package async runs background work without leaking panics or goroutines.
//
// SafeGo detaches a task from the request that started it while keeping the
// request's logger, bounds it with a timeout and logs failures. Batch fans a
// slice out over a fixed number of workers and collects the errors.
package async
