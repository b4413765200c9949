// Package dispatch reads the repository dispatch event that triggers a
// publishing run.
package dispatch
