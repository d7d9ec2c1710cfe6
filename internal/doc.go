// Package hydrolink polls Hydrolink water meters and exposes their readings.
//
// # Architecture
//
// The service is structured into several key packages:
//   - api: Hydrolink HTTP client (login, token lifecycle, meter data fetch)
//   - meter: Dataset store, per-meter projection and live sensor views
//   - hydrolink: Account wiring, refresh cycle and shared account registry
//   - scheduler: Periodic refresh on a fixed interval
//   - grpc: gRPC health service and its interceptors
//   - metrics: Prometheus collectors
//   - config: YAML and environment configuration
//   - models: Shared data structures
//
// Key Features
//
//   - Token Lifecycle:
//     Logs in lazily and reuses the token until a fetch fails, then logs
//     in once more and retries the fetch once.
//
//   - Shared Dataset:
//     Every meter of an account reads from one dataset that is replaced
//     atomically on each successful refresh.
//
//   - Meter Views:
//     Each meter is projected into a view with its latest value and the
//     last seven days of consumption.
//
// Example Usage
//
//	account, err := hydrolink.Initialize(ctx, models.Credentials{
//	    Username: "user@example.com",
//	    Password: "secret",
//	}, hydrolink.Options{})
//	if err != nil {
//	    return err
//	}
//	defer account.Shutdown(ctx)
//
//	for _, view := range account.ListDeviceViews() {
//	    fmt.Println(view.Name, view.State)
//	}
//
// For more information about specific packages, see their respective
// documentation.
package hydrolink
