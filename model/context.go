package model

import "context"

// DefaultUserID is the actor recorded when a request names none.
const DefaultUserID = "system"

// RequestContext carries the caller identity and tracing information of one
// request. It is immutable after construction and safe for concurrent reads.
type RequestContext struct {
	UserID        string
	UserName      string
	Language      Language
	CorrelationID string
	TraceID       string
}

// Actor returns the user id for change log entries.
func (rc *RequestContext) Actor() string {
	if rc == nil || rc.UserID == "" {
		return DefaultUserID
	}
	return rc.UserID
}

// ActorName returns the display name for change log entries, falling back to
// the user id.
func (rc *RequestContext) ActorName() string {
	if rc == nil || rc.UserName == "" {
		return rc.Actor()
	}
	return rc.UserName
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns
// nil if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}
