// Package mongo provides a MongoDB-backed upload.Store.
package mongo
