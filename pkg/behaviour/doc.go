// Package behaviour decides how a mocked resource responds to a request.
//
// A route either has a behaviour script or it does not. Without a script
// the decision is always to use the plugin's default rendering of the
// route's static response file. With a script, an Evaluator runs it against
// the RequestContext; the script may seal an Immediate decision (respond now
// with a status and stop), adjust the default rendering (status, file, empty
// body), or do nothing at all, in which case the static behaviour applies.
package behaviour
