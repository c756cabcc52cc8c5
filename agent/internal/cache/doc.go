// Package cache holds the process-wide, last-known-good engine state: raw
// metric rows, today's order count, the status summary, the connectivity
// status, and the last-refreshed timestamp.
//
// Reads are synchronous and never wait on I/O, so a consumer that subscribes
// mid-session sees the previous session's data immediately (stale while
// revalidate). Slots are overwritten, never merged, and only successful
// operations write; a failure leaves the previous value in place.
package cache
