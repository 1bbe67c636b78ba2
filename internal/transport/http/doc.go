// Package http implements the HTTP handlers of the license server. Handlers
// are thin: they decode and validate the wire request, call a service and
// render the response contract. Status codes are decided by
// internal/errors, never by the services.
//
// # Routes
//
//	POST /api/licenses/activate                   license binding
//	POST /api/licenses/verify                     license check
//	POST /api/telemetry/session                   usage report (202)
//	POST /api/telemetry/plugin                    usage report (202)
//	POST /api/admin/licenses                      issue
//	GET  /api/admin/licenses?email=               list
//	GET  /api/admin/licenses/export.xlsx          spreadsheet export
//	GET  /api/admin/licenses/export.csv           CSV export of the license table
//	GET  /api/admin/licenses/{key}                read one
//	GET  /api/admin/licenses/{key}/activations    activation history
//	POST /api/admin/licenses/{key}/enabled        enable or disable
//	POST /api/admin/licenses/{key}/release-device release device binding
//	GET  /api/health, /api/health/live, /api/health/ready, /api/version
//	GET  /metrics
//
// Every /api/admin route requires the admin secret.
package http
