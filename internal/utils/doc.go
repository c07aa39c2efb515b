// Package utils holds the text helpers shared by discovery, scoring and
// decomposition: lowercase word tokenization, stop-word filtering and
// token overlap.
package utils
