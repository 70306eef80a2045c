// Package testutil provides shared unit-test helpers:
//   - sqlmock-backed database clients (sqlmock.go)
//   - Miniredis servers and clients for session-store tests (miniredis.go)
//
// Neither requires Docker; everything here runs in regular unit tests.
package testutil
