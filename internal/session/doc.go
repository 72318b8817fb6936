// Package session hosts server-side transcription runs. An upload becomes a
// session that is analyzed immediately, waits for the owner to confirm the
// credit estimate, then processes in the background. Each user has at most
// one active session; idle sessions expire.
package session
