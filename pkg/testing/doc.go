// Package testing provides a testing SDK for using imposter in Go tests.
//
// This package starts an in-process mock server for the duration of a test,
// with a fluent builder API for declaring HBase tables and REST resources.
//
// # Basic Usage
//
//	func TestScanner(t *testing.T) {
//	    mock := testing.New(t)
//
//	    mock.Table("users",
//	        map[string]any{"name": "alice"},
//	        map[string]any{"name": "bob"},
//	    ).Add()
//
//	    url := mock.Start()
//
//	    // Point the code under test at url+"/users/scanner" ...
//
//	    mock.AssertScannersOpen(t, 0)
//	}
//
// # Tables
//
// Table declares an HBase scanner route over the given records. A table may
// carry a filter prefix constraint and a behaviour script:
//
//	mock.Table("orders", records...).
//	    WithBasePath("/hbase").
//	    WithPrefix("2024-").
//	    WithScript(`if (context.scanPhase === "read") respond().withStatusCode(503).immediately();`).
//	    Add()
//
// Scan drives a complete scanner lifecycle and returns every row:
//
//	rows := mock.Scan("/hbase", "orders", 10)
//
// # Resources
//
// Resource declares a REST route serving a static body, optionally behind a
// script. Scripts ending in .expr are expr-lang expressions; the default is
// JavaScript:
//
//	mock.Resource("pets").
//	    WithBody(`[{"id":1}]`).
//	    WithScript(`request.method == "DELETE" ? 204 : nil`, ".expr").
//	    Add()
//
// The server stops automatically when the test finishes.
package testing
