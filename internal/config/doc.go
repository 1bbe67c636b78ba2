// Package config provides centralized configuration management for the
// license server. It loads configuration from multiple sources, validates it,
// and exposes a type-safe struct to the rest of the application.
//
// # Configuration Sources
//
// Configuration is layered, later sources overriding earlier ones:
//
//	1. Default values (lowest priority)
//	2. A YAML file (--config flag, LICSRV_CONFIG, or ./licsrv.yaml)
//	3. Environment variables (highest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern LICSRV_<SECTION>_<FIELD>:
//
//	LICSRV_SERVER_PORT=8080
//	LICSRV_STORE_DRIVER=mongo
//	LICSRV_STORE_MONGO_URI=mongodb://localhost:27017
//	LICSRV_ADMIN_SECRET=change-me
//	LICSRV_TELEMETRY_SINK=redis
//	LICSRV_TELEMETRY_REDIS_URL=redis://localhost:6379/0
//
// # Validation
//
// Load fails when the selected store driver or telemetry sink is missing its
// connection settings, or when no admin credential is configured.
package config
