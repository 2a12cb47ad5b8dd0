package requestctx

import "context"

type ctxKey string

const infoKey ctxKey = "request_info"

// Info is the per-request record shared by the middleware chain. Outer
// middleware create it so that values filled in by inner layers (the
// authenticated principal) are visible when the request is logged.
type Info struct {
	RequestID   string
	PrincipalID string
	SessionID   string
}

func With(ctx context.Context, info *Info) context.Context {
	return context.WithValue(ctx, infoKey, info)
}

func From(ctx context.Context) *Info {
	if info, ok := ctx.Value(infoKey).(*Info); ok {
		return info
	}
	return nil
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if info := From(ctx); info != nil {
		info.RequestID = requestID
		return ctx
	}
	return With(ctx, &Info{RequestID: requestID})
}

func GetRequestID(ctx context.Context) string {
	if info := From(ctx); info != nil {
		return info.RequestID
	}
	return ""
}

// SetPrincipal records the authenticated caller on the request record.
func SetPrincipal(ctx context.Context, principalID, sessionID string) {
	if info := From(ctx); info != nil {
		info.PrincipalID = principalID
		info.SessionID = sessionID
	}
}
