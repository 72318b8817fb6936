// Package transcription calls an external speech-to-text provider for one
// audio segment at a time.
//
// Three backends implement Transcriber: Gemini (multimodal generation with a
// verbatim-transcription prompt), Speech (dedicated recognition endpoint) and
// Whisper (OpenAI-compatible transcription). The active backend is chosen once
// by New. Client enforces a per-call deadline that cancels the in-flight
// request, limits concurrency and reports statistics and metrics. Failures are
// classified as *TimeoutError or *ProviderError; retries are the caller's job.
package transcription
