// Package security holds the limits the engine enforces on untrusted input.
//
// Job type names and payload sizes are checked at submission. Strand paths
// are normalized before any processor touches the content root. Error and
// progress messages are stripped of control characters and truncated before
// they are stored or published.
package security
