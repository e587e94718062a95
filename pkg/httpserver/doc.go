// Package httpserver runs an http.Handler with timeouts taken from Config and
// shuts it down gracefully when the context is cancelled or the process
// receives SIGINT/SIGTERM.
package httpserver
