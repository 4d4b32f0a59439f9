// Package context attaches the running job to a context.Context.
//
// A worker channel stores the job here before invoking its processor and
// raises the cancel flag when the queue asks for a cooperative stop. The
// exported accessors live in pkg/jobctx.
package context
