// Package message implements the conversation log: an ordered list of
// messages where every message owns an ordered set of alternative contents
// and an active index. The active path (one alternative per position) is the
// exact input handed to completion backends.
//
// Adding an alternative to the message at position k makes it active and
// drops every message after k, since those belong to the superseded path and
// must be regenerated. Messages before k are never touched.
package message
