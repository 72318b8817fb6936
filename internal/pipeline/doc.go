// Package pipeline drives one audio source through chunked, credit-metered
// transcription.
//
// A Run moves Idle -> Analyzing -> Ready -> Processing -> Done or Partial,
// with Cancelled reachable from every active state. Analyze discovers the
// duration and asks the Remote for a credit estimate; Process decodes and
// chunks the source only after confirmation, then submits chunks strictly in
// order with per-chunk retries. Insufficient credit ends the run, saving a
// partial transcript when text exists. Cancellation is checked at chunk
// boundaries and never saves anything.
package pipeline
