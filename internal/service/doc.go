// Package service implements the credit-metered transcription operations
// behind the HTTP API: analyze, per-chunk transcription, save and balance.
package service
