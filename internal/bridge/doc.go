// Package bridge is the single router between isolated plugin surfaces and
// the host.
//
// Surfaces connect over a WebSocket and send request envelopes naming an
// Op and a payload. Dispatch validates the payload, applies the query scope
// guard to SQL, invokes the matching handler under panic recovery, and
// replies with either a result or a structured {code, message} failure.
// The Hub also pushes events (toasts and service-module messages) to
// connected surfaces.
//
// The HTTP side is a chi router serving the bridge endpoint, the surface
// attach decision, static plugin files, health, and Prometheus metrics.
package bridge
