// Package audit keeps the JSONL trail of every command the gateway runs.
package audit
