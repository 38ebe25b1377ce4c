// Package mongo registers MongoDB-backed instance log storage for the AIPP
// runtime.
//
// Use clients/mongo to build the low-level client and pass it to NewStore to
// obtain a runlog.Store that persists append-only log records together with
// the ancestor path of the instance that produced them.
package mongo
