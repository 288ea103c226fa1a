// Package rate recognises upstream throttling responses and records them.
package rate

import (
	"net/http"
	"strings"

	"dexflow/internal/metrics"
	"dexflow/logger"
)

// ReportRateLimitExceeded counts a throttled request made by source against
// target (a symbol, table or endpoint).
func ReportRateLimitExceeded(log *logger.Log, source, target string) {
	fields := logger.Fields{
		"source": strings.ToLower(source),
		"target": target,
	}
	metrics.EmitMetric(log, strings.ToLower(source), "rate_limit_exceeded", int64(1), "counter", fields)
	log.WithComponent(strings.ToLower(source)).WithFields(fields).Warn("rate limit exceeded")
}

// ReportIPBan counts a request rejected because the caller's address is banned.
func ReportIPBan(log *logger.Log, source, target string) {
	fields := logger.Fields{
		"source": strings.ToLower(source),
		"target": target,
	}
	metrics.EmitMetric(log, strings.ToLower(source), "ip_ban", int64(1), "counter", fields)
	log.WithComponent(strings.ToLower(source)).WithFields(fields).Error("ip banned")
}

// detectLimit inspects an upstream status and message. Each source words its
// throttling differently.
func detectLimit(source string, status int, msg string) (rateLimit bool, ipBan bool) {
	lowerMsg := strings.ToLower(msg)
	switch strings.ToLower(source) {
	case "binance", "binance_ws":
		ipBan = status == http.StatusTeapot || (strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban"))
		rateLimit = !ipBan && (status == http.StatusTooManyRequests || strings.Contains(lowerMsg, "too many requests"))
	case "coingecko":
		rateLimit = status == http.StatusTooManyRequests || strings.Contains(lowerMsg, "throttled") || strings.Contains(lowerMsg, "rate limit")
	case "chain":
		rateLimit = status == http.StatusTooManyRequests || strings.Contains(lowerMsg, "too many requests")
		ipBan = status == http.StatusForbidden && strings.Contains(lowerMsg, "blocked")
	default:
		rateLimit = status == http.StatusTooManyRequests || strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	}
	return
}

// ReportLimitFromResponse records a rate limit or ban when status and msg
// signal one, and reports whether it did.
func ReportLimitFromResponse(log *logger.Log, source, target string, status int, msg string) bool {
	rateLimit, ipBan := detectLimit(source, status, msg)
	if rateLimit {
		ReportRateLimitExceeded(log, source, target)
	}
	if ipBan {
		ReportIPBan(log, source, target)
	}
	return rateLimit || ipBan
}
