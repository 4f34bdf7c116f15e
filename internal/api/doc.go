// Package api exposes the HTTP interface for the catalog search service:
// hybrid search, product browsing, ingestion, and embedding backfill
// control, plus health and metrics endpoints.
package api
