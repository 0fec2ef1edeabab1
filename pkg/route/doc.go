// Package route maps inbound requests to route configurations and to the
// plugins that serve them.
package route
