// Package rules holds the ordered, immutable table of name patterns that the server answers
// directly, along with the loader for the plain-text rule file.
package rules
