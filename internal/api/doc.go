// Package api holds the JSON wire types shared by the registry HTTP server
// and its client, plus the error codes that let the client recover the
// registry's sentinel errors from a response.
package api
