// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level sections:
//   - agent — poll interval, fetch/probe timeouts, metrics and status windows
//   - remote — transport (http|grpc), endpoint, auth, tls, retries, breaker
//   - database — optional PostgreSQL source for today's order count
//   - session — optional Redis store for session-scoped flags
//   - server — consumer HTTP port and the optional command API key
//   - logging — slog level
//
// Secrets are never stored in the file: key_env, token_env, password_env and
// url_env name environment variables resolved at use time.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It watches the parent directory so
// the rename→create pattern used by atomic-save editors is picked up. main
// applies only the log level on reload.
package config
