// Package auth implements credential and session lifecycle management for
// the Teekect ticketing platform: registration with time-bounded email
// verification, password login with bearer-token issuance, explicit token
// revocation, time-bounded password resets, and admin-gated role changes.
//
// The package is transport-agnostic at its core. HTTP wiring lives in
// http.go and http_controller.go on top of go-router; persistence is a
// bun-backed repository layer; outbound email is a Mailer capability the
// host application provides.
package auth
