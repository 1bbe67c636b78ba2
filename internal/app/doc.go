// Package app wires the license server together and manages its lifecycle.
//
// # Initialization Flow
//
//	1. Logging and OpenTelemetry from the loaded configuration
//	2. License store (wrapped in store.Resilient)
//	3. Telemetry sink and its dispatcher
//	4. License engine, services and the HTTP router
//	5. Housekeeping tasks for the store and the sink
//
// # Lifecycle
//
// Run starts the HTTP server, the telemetry dispatcher and the housekeeper in
// one errgroup and blocks until its context is cancelled or one of them
// fails. The server is shut down first so in-flight requests can still
// publish events; the dispatcher is stopped afterwards and flushes what is
// buffered. Close releases the store and the observability providers.
//
// # Usage
//
//	a, err := app.New(ctx, cfg, build)
//	if err != nil {
//	    return err
//	}
//	defer a.Close(context.Background())
//	return a.Run(ctx)
package app
