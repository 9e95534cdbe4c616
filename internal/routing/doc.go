// Package routing turns an intent analysis plus the raw query into a ranked,
// thresholded set of handlers. Scoring functions are pure; the Generator runs
// three matching passes over a catalog snapshot and the Policy decides which
// candidates are confident enough to execute.
package routing
