// Package textutil turns free-form text read from media, such as volume
// labels, into names that are safe to use as a single path element.
package textutil
