// Package healthcheck tracks the health of every configured OCR backend.
//
// A Monitor polls each backend's health endpoint on its own schedule and
// feeds the result into a per-backend Record. Records apply hysteresis: a
// backend is marked unhealthy only after a run of consecutive failures and
// trusted again only after a run of consecutive successes, so a single flaky
// poll never flips its state.
//
// Records live in a Table that is shared with the request path. Writers are
// limited to the Monitor; readers get value snapshots.
package healthcheck
