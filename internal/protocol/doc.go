// Package protocol concerns itself primarily with DNS protocol-specific business logic. It contains
// the wire codec used to read questions and synthesize answers, and the request router that
// decides, per query, whether to answer from the rule table or to forward to an upstream server.
package protocol
