package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"safarbook/internal/config"
	"safarbook/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxCaller = "caller"
	ctxClient = "api_client"

	PermRules    = "admin:rules"
	PermBookings = "admin:bookings"

	clientKeyUnknown = "unknown"
)

var (
	errMissingToken      = errors.New("missing bearer token")
	errInvalidToken      = errors.New("invalid token")
	errPermissionDenied  = errors.New("permission denied")
	errInvalidAPIKey     = errors.New("invalid api key")
	errMissingAPIKey     = errors.New("missing api key header")
	errIdentityRequired  = errors.New("user token or guest token required")
	errUserTokenRequired = errors.New("user token required")
)

// Authenticator resolves callers from bearer tokens and guest headers, and
// guards admin routes with API keys.
type Authenticator struct {
	cfg     config.APIAuthConfig
	secret  []byte
	clients []config.APIClientKey
	limiter *rateLimiter
}

func NewAuthenticator(cfg config.APIAuthConfig, rl config.APIRateLimitConfig) *Authenticator {
	return &Authenticator{
		cfg:     cfg,
		secret:  []byte(cfg.JWTSecret),
		clients: cfg.APIKeys,
		limiter: newRateLimiter(rl),
	}
}

// SignUserToken issues an HS256 token whose subject is userID.
func SignUserToken(secret string, userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Identify attaches a models.Caller to the request. A malformed or expired
// bearer token is rejected; a missing one leaves the caller anonymous.
func (a *Authenticator) Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		var caller models.Caller

		if header := c.GetHeader("Authorization"); header != "" {
			userID, err := a.parseBearer(header)
			if err != nil {
				abortWithMessage(c, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			caller.UserID = userID
		}
		caller.GuestToken = strings.TrimSpace(c.GetHeader(a.guestHeader()))

		c.Set(ctxCaller, caller)
		c.Next()
	}
}

func (a *Authenticator) parseBearer(header string) (int64, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, errMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return 0, errInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, errInvalidToken
	}
	return userID, nil
}

// RequireIdentity rejects anonymous callers.
func (a *Authenticator) RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if callerFrom(c).IsAnonymous() {
			abortWithMessage(c, http.StatusUnauthorized, "unauthorized", errIdentityRequired.Error())
			return
		}
		c.Next()
	}
}

// RequireUser rejects callers without a user token.
func (a *Authenticator) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if callerFrom(c).UserID == 0 {
			abortWithMessage(c, http.StatusUnauthorized, "unauthorized", errUserTokenRequired.Error())
			return
		}
		c.Next()
	}
}

// RequireAPIKey guards admin routes. Keys with no permissions are allowed everything.
func (a *Authenticator) RequireAPIKey(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, err := a.checkAPIKey(c.GetHeader(a.apiKeyHeader()), permission)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, errPermissionDenied) {
				status = http.StatusForbidden
			}
			abortWithMessage(c, status, "unauthorized", err.Error())
			return
		}
		c.Set(ctxClient, client.Name)
		c.Next()
	}
}

func (a *Authenticator) checkAPIKey(apiKey, permission string) (config.APIClientKey, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return config.APIClientKey{}, errMissingAPIKey
	}

	var match *config.APIClientKey
	for i := range a.clients {
		if subtle.ConstantTimeCompare([]byte(a.clients[i].Key), []byte(apiKey)) == 1 {
			match = &a.clients[i]
		}
	}
	if match == nil {
		return config.APIClientKey{}, errInvalidAPIKey
	}

	if permission == "" || len(match.Permissions) == 0 {
		return *match, nil
	}
	for _, p := range match.Permissions {
		if strings.TrimSpace(p) == permission {
			return *match, nil
		}
	}
	return config.APIClientKey{}, errPermissionDenied
}

// RateLimit throttles per API key, then per caller, then per client IP.
func (a *Authenticator) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.limiter.Allow(a.clientKey(c)) {
			abortWithMessage(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		c.Next()
	}
}

func (a *Authenticator) clientKey(c *gin.Context) string {
	if apiKey := strings.TrimSpace(c.GetHeader(a.apiKeyHeader())); apiKey != "" {
		return "key:" + apiKey
	}
	if caller := callerFrom(c); !caller.IsAnonymous() {
		return caller.OwnerKey()
	}
	if ip := c.ClientIP(); ip != "" {
		return "ip:" + ip
	}
	return clientKeyUnknown
}

func (a *Authenticator) apiKeyHeader() string {
	if h := strings.TrimSpace(a.cfg.HeaderAPIKey); h != "" {
		return h
	}
	return "x-api-key"
}

func (a *Authenticator) guestHeader() string {
	if h := strings.TrimSpace(a.cfg.HeaderGuestToken); h != "" {
		return h
	}
	return "x-guest-token"
}

func callerFrom(c *gin.Context) models.Caller {
	if v, ok := c.Get(ctxCaller); ok {
		if caller, ok := v.(models.Caller); ok {
			return caller
		}
	}
	return models.Caller{}
}
