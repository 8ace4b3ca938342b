// Package store persists audit progress records. It depends only on the
// audit.KeyValue collaborator; concrete backends live in internal/storage and
// this package must not import database drivers or cloud clients.
package store
