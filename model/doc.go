// Package model defines the shared data types of the retrieval service:
// documents, query plans, results, and stats snapshots.
package model
