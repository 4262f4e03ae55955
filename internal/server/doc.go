// Package server exposes the HTTP surface: the websocket endpoints for
// rig-bound roles, health probes and the Prometheus scrape endpoint.
package server
