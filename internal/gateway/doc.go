// Package gateway exposes the session lifecycle over HTTP.
//
// All /api routes sit behind JWT bearer auth; the caller's user and tenant
// identity come from the token, never from the request body. Typed service
// errors map to 4xx statuses: no default assistant is 400, ownership
// failures are 403, missing or inactive targets are 404. Create races are
// recovered inside the lifecycle service and never reach a client.
package gateway
