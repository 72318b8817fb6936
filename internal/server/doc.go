// Package server exposes the transcription service over HTTP. It serves the
// credit-metered chunk API used by browser clients, server-side upload
// sessions, a websocket for live microphone capture, and the health, stats
// and Prometheus endpoints.
package server
