package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/amirasaad/ecclesia/pkg/metrics"
	"github.com/amirasaad/ecclesia/pkg/ratelimit"
	"github.com/amirasaad/ecclesia/webapi/common"
	"github.com/gofiber/fiber/v2"
)

// KeyFunc derives the rate limit identity of a request.
type KeyFunc func(c *fiber.Ctx) string

// ClientIP keys on the peer address. The proxy header is honoured only
// for peers the app trusts, see ProxyConfig.
func ClientIP(c *fiber.Ctx) string {
	return c.IP()
}

// ProxyConfig sets the client IP fields of cfg. Without a header or trusted
// proxies every forwarded header is ignored.
func ProxyConfig(cfg fiber.Config, proxyHeader string, trustedProxies []string) fiber.Config {
	if proxyHeader == "" {
		return cfg
	}
	cfg.ProxyHeader = proxyHeader
	cfg.EnableTrustedProxyCheck = true
	cfg.TrustedProxies = trustedProxies
	cfg.EnableIPValidation = true
	return cfg
}

// RateLimit applies a fixed window per key. policy names the counter
// namespace so route families do not share quotas.
func RateLimit(limiter *ratelimit.Limiter, policy string, limit int, window time.Duration, keyFn KeyFunc) fiber.Handler {
	if keyFn == nil {
		keyFn = ClientIP
	}
	return func(c *fiber.Ctx) error {
		res := limiter.Check(c.UserContext(), policy+":"+keyFn(c), limit, window)
		c.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			metrics.RateLimited(policy)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(window.Seconds())))
			return common.ProblemDetailsJSON(
				c,
				"Too Many Requests",
				errors.New("rate limit exceeded"),
				fiber.StatusTooManyRequests,
			)
		}
		return c.Next()
	}
}
