// Package daemon wires the service components into a single lifecycle:
// progress store, job registry, disk manager, janitor, media client, and
// the HTTP API server. Flock-based locking prevents multiple instances
// from managing the same download directory.
package daemon
