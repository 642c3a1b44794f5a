// Package internal holds helpers private to rentAuth: random identifier
// generation and validation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink)
//   - flows: refresh, logout and access-token validation sequencing
//   - shard: xxhash-striped maps for process-local state
//   - rate: Redis fixed-window request throttling
//   - logging: zap logger construction for binaries
//   - appconfig: viper/godotenv process configuration
//   - httpapi: echo transport over the Engine
//
// # What this package must NOT do
//
//   - Export types that appear in the public rentAuth API.
package internal
