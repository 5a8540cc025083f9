// Package metric provides Prometheus-based metrics collection and an HTTP
// server for gateway monitoring.
//
// The package manages both core gateway metrics (endpoint calls, spec
// registrations, adapter connections, auth flows) and component-specific
// metrics registered at runtime, and exposes them in Prometheus format.
//
// Setting up metrics collection and the HTTP server:
//
//	registry := metric.NewRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        log.Printf("metrics server error: %v", err)
//	    }
//	}()
//
//	core := registry.CoreMetrics()
//	core.RecordCall("rest", "http", "get", "success")
//	core.RecordCallDuration("rest", "http", 150*time.Millisecond)
//
// Metrics are served at /metrics and a plain health check at /health.
package metric
