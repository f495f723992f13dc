// Package handler exposes the gateway over HTTP: the two OCR upload
// endpoints, the health and backend listings, and the request-id and access
// log middleware wrapped around them.
package handler
