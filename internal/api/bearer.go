package api

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

// AuthorizationHeader carries "Bearer <access token>".
const AuthorizationHeader = "authorization"

const bearerPrefix = "Bearer "

// WithBearer returns ctx with the access token set as outgoing
// authorization metadata, replacing any earlier value.
func WithBearer(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(AuthorizationHeader, bearerPrefix+token)
	return metadata.NewOutgoingContext(ctx, md)
}

// BearerToken extracts the token from an authorization value. The scheme is
// matched case-insensitively; anything else yields "".
func BearerToken(value string) string {
	value = strings.TrimSpace(value)
	if len(value) < len(bearerPrefix) || !strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(value[len(bearerPrefix):])
}
