package api

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"hotelbook/internal/apperr"
	"hotelbook/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	userIDHeaderDefault   = "x-user-id"
	authorizationHeader   = "authorization"
	idempotencyHeader     = "idempotency-key"
	requestIDMetadataKey  = "x-request-id"
	permReadAvailability  = "read:availability"
	permReadBookings      = "read:bookings"
	permWriteBookings     = "write:bookings"
	clientKeyUnknown      = "unknown"
	bearerPrefix          = "bearer "
	jwtSigningAlgorithm   = "HS256"
	grpcMethodPrefix      = "/" + bookingServiceName + "/"
	defaultRateLimitBurst = 5
)

var (
	errMissingAPIKey    = apperr.Unauthorized("missing api key")
	errInvalidAPIKey    = apperr.Unauthorized("invalid api key")
	errInvalidToken     = apperr.Unauthorized("invalid bearer token")
	errPermissionDenied = apperr.Forbidden("permission denied")
)

// Caller is who is making a request: the API client (when key auth is on) and the end
// user the request acts for.
type Caller struct {
	ClientName  string
	Permissions []string
	UserID      string

	keyAuth bool
}

// Can reports whether the caller's API client holds perm. Clients without a permission
// list, and requests when key auth is off, may do anything.
func (c Caller) Can(perm string) bool {
	if !c.keyAuth || len(c.Permissions) == 0 {
		return true
	}
	for _, p := range c.Permissions {
		if strings.TrimSpace(p) == perm {
			return true
		}
	}
	return false
}

type callerKey struct{}

func withCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored by the auth middleware or interceptor.
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}

// Authenticator resolves API clients and end users for both transports.
type Authenticator struct {
	cfg          *config.APIConfig
	apiKeyHeader string
	userHeader   string
	jwtSecret    []byte
	clients      []config.APIClientKey
	limiter      *rateLimiter
}

func NewAuthenticator(cfg *config.APIConfig) *Authenticator {
	apiKeyHeader := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderAPIKey))
	if apiKeyHeader == "" {
		apiKeyHeader = apiKeyHeaderDefault
	}
	userHeader := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderUserID))
	if userHeader == "" {
		userHeader = userIDHeaderDefault
	}

	a := &Authenticator{
		cfg:          cfg,
		apiKeyHeader: apiKeyHeader,
		userHeader:   userHeader,
		clients:      cfg.Auth.APIKeys,
		limiter:      newRateLimiter(cfg),
	}
	if cfg.Auth.JWTSecret != "" {
		a.jwtSecret = []byte(cfg.Auth.JWTSecret)
	}
	return a
}

// authenticate checks the API key (when key auth is enabled) and resolves the end user
// from a bearer token, or from the trusted user header when no JWT secret is configured.
func (a *Authenticator) authenticate(apiKey, authorization, userHeader string) (Caller, error) {
	var caller Caller

	if a.cfg.Auth.Enabled {
		if apiKey == "" {
			return Caller{}, errMissingAPIKey
		}
		client, ok := a.findClient(apiKey)
		if !ok {
			return Caller{}, errInvalidAPIKey
		}
		caller.keyAuth = true
		caller.ClientName = client.Name
		caller.Permissions = client.Permissions
	}

	if a.jwtSecret != nil {
		if authorization == "" {
			return caller, nil
		}
		subject, err := a.subjectFromToken(authorization)
		if err != nil {
			return Caller{}, err
		}
		caller.UserID = subject
		return caller, nil
	}

	caller.UserID = userHeader
	return caller, nil
}

func (a *Authenticator) findClient(apiKey string) (config.APIClientKey, bool) {
	for _, c := range a.clients {
		if c.Key != "" && subtle.ConstantTimeCompare([]byte(c.Key), []byte(apiKey)) == 1 {
			return c, true
		}
	}
	for _, c := range a.clients {
		if c.KeyHash != "" && bcrypt.CompareHashAndPassword([]byte(c.KeyHash), []byte(apiKey)) == nil {
			return c, true
		}
	}
	return config.APIClientKey{}, false
}

func (a *Authenticator) subjectFromToken(authorization string) (string, error) {
	if len(authorization) <= len(bearerPrefix) || !strings.EqualFold(authorization[:len(bearerPrefix)], bearerPrefix) {
		return "", errInvalidToken
	}
	raw := strings.TrimSpace(authorization[len(bearerPrefix):])

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwtSigningAlgorithm})}
	if a.cfg.Auth.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Auth.JWTIssuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, opts...)
	if err != nil {
		return "", &apperr.Error{Kind: apperr.KindUnauthorized, Code: apperr.CodeUnauthorized, Message: errInvalidToken.Message, Err: err}
	}
	if claims.Subject == "" {
		return "", errInvalidToken.With("bearer token has no subject")
	}
	return claims.Subject, nil
}

// allow applies the per-client token bucket. key is the API key or the remote address.
func (a *Authenticator) allow(key string) bool {
	if a.cfg.RateLimit.RPS <= 0 {
		return true
	}
	return a.limiter.getLimiter(key).Allow()
}

// UnaryInterceptor authenticates, authorizes and rate limits gRPC calls.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)

		apiKey := first(md.Get(a.apiKeyHeader))
		caller, err := a.authenticate(apiKey, first(md.Get(authorizationHeader)), first(md.Get(a.userHeader)))
		if err != nil {
			return nil, grpcError(err)
		}
		if !caller.Can(requiredPermission(info.FullMethod)) {
			return nil, grpcError(errPermissionDenied)
		}
		if !a.allow(grpcClientKey(ctx, apiKey)) {
			return nil, grpcError(apperr.ErrRateLimited.With("rate limit exceeded"))
		}

		return handler(withCaller(ctx, caller), req)
	}
}

func requiredPermission(fullMethod string) string {
	switch strings.TrimPrefix(fullMethod, grpcMethodPrefix) {
	case "CheckAvailability", "CalculatePricing":
		return permReadAvailability
	case "GetBooking":
		return permReadBookings
	case "CreateBooking", "CancelBooking":
		return permWriteBookings
	default:
		return ""
	}
}

func grpcClientKey(ctx context.Context, apiKey string) string {
	if apiKey != "" {
		return apiKey
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "grpc").Logger()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		resp, err := handler(ctx, req)
		dur := time.Since(start)

		code := codes.OK
		if err != nil {
			code = status.Code(err)
		}

		remote := clientKeyUnknown
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		ev := base.Info()
		if code == codes.Internal || code == codes.Unknown {
			ev = base.Error().Err(err)
		}
		ev.Str("request_id", requestID).
			Str("method", info.FullMethod).
			Str("remote", remote).
			Str("code", code.String()).
			Dur("duration", dur).
			Msg("grpc request")

		return resp, err
	}
}

func requestIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if vals := md.Get(requestIDMetadataKey); len(vals) > 0 {
			if id := strings.TrimSpace(vals[0]); id != "" {
				return id
			}
		}
	}
	return uuid.NewString()
}
