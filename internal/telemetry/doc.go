// Package telemetry holds the live vehicle state.
//
// Store is the latest-value snapshot written by the drain loop and read by
// the gateway, the relay and the REST surface. Hub pushes state transitions
// and command results to SSE subscribers.
package telemetry
