// Package command implements the command gateway.
//
// The gateway validates a request, encodes it onto the vehicle link, waits
// for the acknowledgement or the state change that confirms it, writes an
// audit record and publishes the result on the telemetry hub. Every
// operation returns an Outcome; errors are data, never panics.
package command
