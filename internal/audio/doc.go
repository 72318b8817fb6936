// Package audio handles decoding, downmixing, resampling and fixed-duration chunking.
// It decodes arbitrary input audio into mono samples at the target rate, slices them
// into ordered segments and encodes each segment as 16-bit PCM WAV for transcription.
package audio
