package common

// AccessTokenHeaderName is the gRPC metadata key carrying the access token.
// The standard "authorization: Bearer <token>" form is accepted as well.
const AccessTokenHeaderName = "access_token"

// AuthorizationHeaderName is the standard metadata key for bearer tokens.
const AuthorizationHeaderName = "authorization"
