// Package ws implements the live WebSocket stream for opspulse-agent.
//
// Hub manages a set of connected clients and pushes the engine's current View
// to all of them whenever it changes.
//
// New(src, vis, onCount) creates a Hub.
// Hub.Run(ctx) subscribes to src and forwards every View. It blocks until ctx
// is cancelled, then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// View immediately on connect, then streams updates.
//
// The hub also reports whether anyone is watching: the first client to
// connect sets vis to visible, and the last one to leave sets it back to
// hidden. The engine polls only while visible.
//
// Message format sent to clients:
//
//	{
//	  "event": "snapshot",
//	  "data":  { /* same schema as GET /api/v1/snapshot */ }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The endpoint is mounted at /ws/stream.
package ws
