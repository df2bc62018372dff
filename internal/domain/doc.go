// Package domain defines the donation event model and the ports the pipeline talks to.
//
// Concept-oriented files (donation.go, ports.go, errors.go) hold shared types and
// consumer-side interfaces so adapters and the pipeline never import each other.
package domain
