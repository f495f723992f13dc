// Package contract defines the unified response document returned by the
// gateway for every OCR request, regardless of which backend served it.
//
// A success body always carries the same field set. The raw_result object
// holds one slot per result format; only the slot matching the serving
// backend is populated and the other is present but empty, so clients can
// decode every response with a single schema.
//
// Failures are reported as *Error values, each carrying exactly one Kind that
// maps to an HTTP status and a JSON error body.
package contract
