// Package poller is the polling scheduler and view engine.
//
// An Engine owns one dashboard session. Activate runs a foreground fetch,
// the once-per-session connectivity probe, and then refreshes silently every
// poll interval while the session's Visibility reports visible. Every fetch
// runs under an opreg handle, and only a handle that is still live may write
// its result into the cache, so superseded, timed-out and torn-down work is
// dropped without surfacing an error.
//
// View derives the consumer snapshot from the cache on each call; nothing
// derived is stored.
package poller
