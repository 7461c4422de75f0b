// Package lakemark defines the shared types and helpers of the write marker
// subsystem: IO types, write configuration, error codes, retry and bounded
// parallel task execution. A write instant records a marker before each data
// file write; commit cleanup and rollback read the markers back to learn what
// the instant touched. Concrete pieces live in subpackages: marker holds the
// path codec, the direct and coordinated stores and early conflict detection,
// coordinator hosts the batching sidecar service, fs is the file system
// boundary (with an S3 implementation under aws_s3), timeline declares the
// active timeline queries detection needs, and adapters/redis guards file
// group claims.
package lakemark
