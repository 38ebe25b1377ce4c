// Package mongo provides a MongoDB-backed chat.Store holding the
// question/answer turns of app conversations.
package mongo
