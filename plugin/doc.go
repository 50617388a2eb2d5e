// Package plugin provides the line sources and destinations that routelog is configured with.
// Splitting these out into their own, independent (except what's provided in pkg) packages means that they can be omitted in favor of a smaller build size if the functionality isn't needed.
//
// "Source" functions take Args and return an iterator.Iterator, and operate asynchronously.
// Sources should close any resources, like file handles or channels, and stop the associated goroutine when they have reached the end of their input or their context is done.
//
// "Destination" functions take Args and return a router.Destination.
// The router calls Write from a single goroutine per destination, with a deadline on the context, so destinations don't need their own locking for writes.
//
//	Current Plugins:
//	- file provides a read-once source, a tail source, and an appending file destination.
//	- std provides stdin as a source, and stdout/stderr as destinations.
//	- exec provides a destination that writes to the stdin of a long-running process.
//	- net provides TCP and UDP destinations.
//	- sqlite provides a table destination, and a source that replays its payloads.
package plugin
