// Package scan serves paginated scans over file-backed datasets.
//
// Engine.Create opens a cursor after checking the request's filter against
// the route's configured prefix. Engine.Read returns the next page of rows
// and advances the cursor, evicting it once the dataset is exhausted. The
// dataset is re-read on every page so fixture edits are picked up without a
// restart.
package scan
