// Package billing meters transcription against a per-user credit balance.
//
// One credit buys one minute of audio, rounded up. Every new profile
// starts with FreeCredits. Credits are deducted one at a time, after each
// chunk is transcribed, through a Ledger whose Deduct never lets a
// balance go negative.
package billing
