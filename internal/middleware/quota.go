// Package middleware applies quotas to huma operations.
package middleware

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/driftquota/internal/quota"
	"go.uber.org/zap"
)

// MetadataKey is the operation metadata key holding an EndpointQuota.
const MetadataKey = "quota"

// EndpointQuota customizes quota handling for one operation.
type EndpointQuota struct {
	// Action overrides the middleware's default action.
	Action string
	// Cost is the number of units one request consumes. Zero means 1.
	Cost int64
	// Disabled skips quota handling entirely.
	Disabled bool
}

// LimitSource resolves the limit for an action and subject.
// *quota.Tracker satisfies it.
type LimitSource interface {
	ForAction(action string, subject any) (*quota.Limit, error)
}

// Quota returns a huma middleware that charges every request against the
// quota of its action, keyed by client IP and User-Agent. Requests for
// actions missing from the policy pass through.
func Quota(
	api huma.API, limits LimitSource, defaultAction string, logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		action, cost := defaultAction, int64(1)

		if cfg := endpointQuota(ctx); cfg != nil {
			if cfg.Disabled {
				next(ctx)

				return
			}

			if cfg.Action != "" {
				action = cfg.Action
			}

			if cfg.Cost > 0 {
				cost = cfg.Cost
			}
		}

		limit, err := limits.ForAction(action, clientSubject(ctx))
		if err != nil {
			if errors.Is(err, quota.ErrUnknownAction) {
				logger.Debug("no quota for action", zap.String("action", action))
				next(ctx)

				return
			}

			logger.Error("quota lookup failed", zap.String("action", action), zap.Error(err))
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error", err)

			return
		}

		ok, err := limit.Increment(ctx.Context(), cost)
		if err != nil {
			logger.Error("quota check failed",
				zap.String("action", action),
				zap.String("key", limit.Key()),
				zap.Error(err),
			)
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error", err)

			return
		}

		ctx.SetHeader("X-RateLimit-Limit", strconv.FormatInt(limit.Max(), 10))

		if !ok {
			logger.Warn("quota exceeded",
				zap.String("action", action),
				zap.String("key", limit.Key()),
				zap.Int64("cost", cost),
				zap.String("client_ip", clientIP(ctx)),
			)

			msg := fmt.Sprintf("rate limit exceeded: %s allows %d per %s", action, limit.Max(), limit.Period())
			_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, msg)

			return
		}

		next(ctx)
	}
}

func endpointQuota(ctx huma.Context) *EndpointQuota {
	op := ctx.Operation()
	if op == nil || op.Metadata == nil {
		return nil
	}

	cfg, ok := op.Metadata[MetadataKey].(EndpointQuota)
	if !ok {
		return nil
	}

	return &cfg
}

// clientSubject identifies the caller by IP and User-Agent.
func clientSubject(ctx huma.Context) string {
	return clientIP(ctx) + "|" + ctx.Header("User-Agent")
}

// clientIP extracts the client IP, preferring proxy headers.
func clientIP(ctx huma.Context) string {
	if xff := ctx.Header("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	if xri := ctx.Header("X-Real-IP"); xri != "" {
		return xri
	}

	host := ctx.Host()

	ip, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}

	return ip
}
