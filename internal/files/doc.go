// Package files holds the small file helpers shared by the persistent stores:
// atomic replace-by-rename writes, JSON documents, and key sanitizing for
// file names.
package files
