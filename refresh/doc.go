// Package refresh persists refresh tokens and enforces single-use rotation.
//
// Every login starts a family. Rotation revokes the presented token and
// creates its successor in the same family in one atomic step. Presenting a
// token that rotation already spent burns the whole family and reports
// [ErrReuseDetected].
//
// [MemoryStore] serves single-instance deployments and tests. [RedisStore]
// shares state across instances. A gorm implementation lives in the
// persistence package.
package refresh
