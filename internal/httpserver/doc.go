// Package httpserver runs the gateway's HTTP listener with timeouts sized for
// long OCR calls and a bounded graceful shutdown.
package httpserver
