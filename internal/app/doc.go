// Package app composes the orders API from its components.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	└── httpapi/            # Route table and request handlers
//
// # Middleware Chain
//
// Requests pass through, outermost first:
//
//	Correlation ──► Recovery ──► CORS ──► mux router
//	                                         │
//	                                         ├──► Metrics
//	                                         ├──► Auth guard (scope policy by route name)
//	                                         └──► Rate limiter (/auth routes only)
//
// The correlation middleware runs first so that every response, including
// recovered panics and router 404/405 envelopes, carries X-Correlation-ID.
//
// # Resources
//
// New creates the outbound HTTP client once. Close releases it and must be
// deferred by the caller right after New succeeds.
package app
