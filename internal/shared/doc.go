// Package shared holds helpers used across packages that belong to no single
// layer. Its testutil subpackage provides the captured slog logger and the
// license fixtures used by the package tests.
package shared
