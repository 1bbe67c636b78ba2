// Package services sits between the HTTP handlers and the license engine.
// It translates wire requests into engine calls and engine results into the
// response contracts in pkg/contracts/api/v1, and it is the only layer that
// publishes usage events for the telemetry sink.
//
// Services never decide HTTP status codes. Errors are returned unchanged so
// the transport can classify them with internal/errors.
package services
