// Package http implements the RPC transport over plain HTTP.
//
// Requests are POSTed to /{partitionId} with the serialized message as body.
// The server also exposes GET /metrics in the Prometheus text format, covering
// the metrics set given to NewHttpServerTransport and the process metrics.
//
// The client selects endpoints round robin and retries failed requests with
// exponential backoff. 4xx responses are not retried.
package http
