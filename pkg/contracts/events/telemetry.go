// Package events contains the telemetry event contracts the license server
// emits to its telemetry sink.
package events

import (
	"strings"
	"time"
)

// Kind identifies a telemetry event.
type Kind string

const (
	KindSession    Kind = "session"
	KindPluginUse  Kind = "plugin"
	KindActivation Kind = "activation"
)

// Event is a single usage record. Events are aggregated per email per UTC day
// by the sinks; they are never read back by the core.
type Event struct {
	Kind       Kind      `json:"kind"`
	Email      string    `json:"email"`
	DeviceID   string    `json:"deviceId,omitempty"`
	Plugin     string    `json:"plugin,omitempty"`
	LicenseKey string    `json:"licenseKey,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Day truncates OccurredAt to the UTC calendar day used as the aggregation bucket.
func (e Event) Day() time.Time {
	t := e.OccurredAt.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NormalizedEmail is the aggregation key for the event owner.
func (e Event) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(e.Email))
}
