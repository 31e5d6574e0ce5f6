// Package archive builds the deployable code bundle for a policy function.
//
// An Archive moves through a strict lifecycle: Build produces a bundle that
// is open for writes, Seal closes it and makes size and checksum queryable,
// and Dispose releases the backing temporary file. Writing after Seal or
// reading the checksum before Seal is a programming error and fails with a
// LifecycleError.
//
// The sealed checksum (base64-encoded SHA-256 over the archive bytes) is the
// idempotency key the function reconciler compares against remote state.
package archive
