// Package script runs user-supplied behaviour scripts.
//
// A Sandbox selects an Engine by the script's file extension (".js" runs on
// QuickJS, ".expr" on expr-lang), caches script sources between calls, and
// executes each evaluation on a bounded set of worker goroutines under a
// timeout, so a slow or hanging script only ever blocks its own request.
//
// Scripts see the request as `context` and build a decision with respond():
//
//	if (context.request.queryParams.fail === "true") {
//	    respond().setStatusCode(500).respondImmediately();
//	}
//
// A script that never calls a builder method makes no decision.
package script
