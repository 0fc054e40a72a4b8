// Package api is the REST surface of the bridge: command and movement
// endpoints over the command gateway, telemetry reads over the store, an
// SSE stream over the event hub, health and metrics.
package api
