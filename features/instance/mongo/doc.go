// Package mongo provides a MongoDB-backed implementation of instance.Store.
// Build the low-level client via features/instance/mongo/clients/mongo and
// pass it to NewStore.
package mongo
