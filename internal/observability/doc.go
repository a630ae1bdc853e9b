// Package observability builds the process logger and holds the Prometheus
// collectors shared by the API server and the webhook dispatcher.
package observability
