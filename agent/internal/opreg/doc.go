// Package opreg tracks one outstanding operation per operation kind.
//
// Begin(kind, timeout) cancels any live handle of the same kind with cause
// ErrSuperseded, then returns a new Handle whose context expires after
// timeout with cause ErrTimeout. Commit(h, fn) is the only way results reach
// shared state: fn runs only while h is still the live, uncancelled handle
// for its kind. CancelAll tears every handle down with ErrTornDown.
package opreg
