package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Route defaults applied when a policy is left unset in the environment.
var (
	defaultWebhookLimit  = RouteLimit{Limit: 120, Window: time.Minute}
	defaultLookupLimit   = RouteLimit{Limit: 30, Window: time.Minute}
	defaultWhatsAppLimit = RouteLimit{Limit: 5, Window: 10 * time.Minute}
)

// Load reads the first env file found among envFilePath (searching parent
// directories) and then populates App from the process environment.
func Load(envFilePath ...string) (*App, error) {
	logger := slog.Default()

	if len(envFilePath) == 0 {
		if err := godotenv.Load(); err != nil {
			logger.Warn("No .env file found in current directory")
		}
		return loadFromEnv(logger)
	}

	for _, path := range envFilePath {
		foundPath, err := FindEnvFile(path)
		if err != nil {
			logger.Debug("Environment file not found", "path", path, "error", err)
			continue
		}
		if err := godotenv.Load(foundPath); err != nil {
			logger.Error("Failed to load environment file", "path", foundPath, "error", err)
			continue
		}
		logger.Info("Loaded environment file", "path", foundPath)
		return loadFromEnv(logger)
	}

	logger.Info("No environment file found, using process environment")
	return loadFromEnv(logger)
}

func loadFromEnv(logger *slog.Logger) (*App, error) {
	var cfg App
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	applyRouteDefaults(cfg.RateLimit)

	logger.Info("App config loaded",
		"env", cfg.Env,
		"db", maskValue(cfg.DB.Url),
		"redis", maskValue(cfg.Redis.URL),
		"gateway_default", cfg.Gateway.Default,
		"stripe_env", cfg.Gateway.Stripe.Env,
		"stripe_key", maskValue(cfg.Gateway.Stripe.ApiKey()),
		"pixbank_client_id", maskValue(cfg.Gateway.PixBank.ClientID),
		"scheduler_lock_ttl", cfg.Scheduler.LockTTL,
		"token_ttl", cfg.Token.TTL,
		"rate_limit_max_requests", cfg.RateLimit.MaxRequests,
		"rate_limit_window", cfg.RateLimit.Window,
	)
	return &cfg, nil
}

func applyRouteDefaults(rl *RateLimit) {
	if rl == nil {
		return
	}
	fill := func(p *RouteLimit, def RouteLimit) {
		if p.Limit <= 0 {
			p.Limit = def.Limit
		}
		if p.Window <= 0 {
			p.Window = def.Window
		}
	}
	fill(&rl.Webhook, defaultWebhookLimit)
	fill(&rl.Lookup, defaultLookupLimit)
	fill(&rl.WhatsApp, defaultWhatsAppLimit)
}

// FindEnvFile walks up from the working directory looking for filename.
// An empty filename means ".env".
func FindEnvFile(filename string) (string, error) {
	if filename == "" {
		filename = ".env"
	}
	curr, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(curr, filename)
		if _, err = os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(curr)
		if parent == curr {
			break
		}
		curr = parent
	}
	return "", os.ErrNotExist
}

func maskValue(key string) string {
	if len(key) <= 6 {
		return "****"
	}
	return key[:2] + "****" + key[len(key)-4:]
}
