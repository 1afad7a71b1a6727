package assess

import (
	"log/slog"

	"github.com/latebit/torunveil/internal/cache"
	"github.com/latebit/torunveil/internal/config"
)

// FromConfig builds a client from the [assess] settings. Assessments are
// cached under CacheDir, or the per-user cache directory when it is empty.
func FromConfig(c config.AssessConfig, apiKey string, logger *slog.Logger) *Client {
	dir := c.CacheDir
	if dir == "" {
		dir = cache.DefaultDir()
	}
	return New(Options{
		APIKey:        apiKey,
		Endpoint:      c.Endpoint,
		Model:         c.Model,
		Cache:         cache.New(dir, c.CacheTTL.Duration),
		RatePerMinute: c.RatePerMinute,
		Logger:        logger,
	})
}
