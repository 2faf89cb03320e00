// Package capture defines the core types of the screenshot pipeline: URL pairs
// read from the input sheet, the viewport catalog, the capture tasks expanded
// from them, and the on-disk layout those tasks write to. Collaborators that
// touch the outside world (browser, packager, clock) are declared here as
// interfaces and implemented elsewhere.
package capture
