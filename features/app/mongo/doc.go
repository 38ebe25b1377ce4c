// Package mongo provides a MongoDB-backed app.Store. Name and version pairs
// are kept unique by a compound index so concurrent creates that race on the
// same name surface as app.ErrDuplicateName.
package mongo
