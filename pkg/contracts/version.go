// Package contracts holds the versioned wire contract shared by the server
// and its clients.
package contracts

const (
	// APIVersion is the version of the HTTP wire contract under api/.
	APIVersion = "v1"

	// KeyFormatVersion identifies the license key layout: four dash-separated
	// groups of four uppercase alphanumerics.
	KeyFormatVersion = "4x4-a36"
)
