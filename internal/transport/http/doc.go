// Package http exposes the collector's control surface over HTTP: job
// submission, run history, quota and cache inspection, live operation
// snapshots and the websocket feed.
//
// Handlers depend on narrow interfaces so they can be tested without the
// upstream API. Errors are written through the errors package so every
// failure has the same JSON shape:
//
//	{"success": false, "error": {"status_code": 409, "error_code": "JOB_RUNNING", ...}}
package http
