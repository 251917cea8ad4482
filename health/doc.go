// Package health aggregates the health of the gateway's parts.
//
// A Monitor holds named probes. Check runs every probe and folds the results
// into one Status: unhealthy wins over degraded, which wins over healthy.
// Err turns that into the error form expected by metric.HealthFunc.
//
//	m := health.NewMonitor()
//	m.Register("nats", health.ErrorProbe(client.Health))
//	m.Register("rules", rulesProbe)
//	srv := metric.NewServer(port, path, registry, m.Err)
//
// Messages built from errors are sanitized: URLs, paths, addresses and
// credentials are masked before they reach the health endpoint.
package health
