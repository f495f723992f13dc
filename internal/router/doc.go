// Package router sends one OCR request to the backend the client named.
//
// A request is validated, checked against the health table, staged to a
// temporary file and forwarded as multipart. The backend's answer is
// normalized into a contract.UnifiedResponse. Every failure comes back as a
// *contract.Error. There is no retry and no failover: a request for an
// unhealthy backend is refused without touching the network.
package router
