// Package session implements the conversation session lifecycle: get-or-create
// with lazy TTL expiry, explicit rotation and activation, ending, and the
// tenant ownership boundary.
//
// # State machine
//
// A session is born active and stays active through any number of touch
// updates. It leaves the active state exactly once, through one of: TTL
// expiry (lazy, detected on the next message), an explicit end, or rotation
// superseding it. All three are terminal; no transition reactivates a
// terminal row except Activate, which is a fresh created-equivalent
// transition on that same row.
//
// # Concurrency
//
// The service holds no locks. Multiple process instances may run the same
// operation for the same identity tuple concurrently; the store's partial
// unique index over active rows is the single arbiter. GetOrCreate treats a
// unique-index conflict as "someone else won" and returns the winner's row.
// Only when the insert and every recovery re-read fail does the caller see
// ErrSessionCreateRace.
package session
