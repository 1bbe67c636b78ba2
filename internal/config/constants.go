package config

import "time"

// Application constants
const (
	AppName = "licsrv"

	// DefaultStoreFile is the JSON store location for the file driver.
	DefaultStoreFile = "data/licenses.json"

	// DefaultMongoDatabase matches the database name used by existing deployments.
	DefaultMongoDatabase = "licencias_db"

	// DefaultRetention is how long telemetry and activation history are kept.
	DefaultRetention = 90 * 24 * time.Hour

	// AdminSecretHeader carries the admin secret when it is not in the body.
	AdminSecretHeader = "X-Admin-Secret"
)
