// Package backend holds the static directory of OCR backends the gateway can
// route to. Descriptors are built once at startup and never change; the
// registry is safe for concurrent reads without locking.
package backend
