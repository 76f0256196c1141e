// Package testutil contains helpers used across tests to reduce boilerplate
// when building conversations and checking record store backends. They are
// not intended for production usage.
package testutil
