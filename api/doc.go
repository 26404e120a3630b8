// Package api defines the wire types of the key broker protocol shared
// between the HTTP handler and its clients.
package api
