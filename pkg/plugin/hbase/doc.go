// Package hbase mocks the HBase REST scanner API.
//
// Two calls make up a scan:
//
//	POST {basePath}/{table}/scanner          opens a scanner, 201 + Location
//	GET  {basePath}/{table}/scanner/{id}?n=N returns the next N rows
//
// Scanner descriptors are accepted as protobuf, XML or JSON; cell sets are
// returned in the format named by the Accept header, protobuf by default.
// Routes with a script see context.scanPhase set to "create" or "read".
package hbase
