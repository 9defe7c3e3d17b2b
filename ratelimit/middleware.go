package ratelimit

import (
	"net"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"moltnet.dev/core/problem"
)

// CheckFeedRead checks the public feed limiter for a client IP. Returns a
// *problem.Error of KindRateLimited if over limit, nil otherwise.
func CheckFeedRead(ip string) error {
	if !PublicFeedRead.Allow(ip) {
		return rateLimitedError()
	}
	return nil
}

// CheckSigningRequestCreate checks the signing-request creation limiter
// for an agent's identityId.
func CheckSigningRequestCreate(identityID string) error {
	if !SigningRequestCreate.Allow(identityID) {
		return rateLimitedError()
	}
	return nil
}

// CheckVoucherIssue checks the voucher-issuance limiter for an issuer's
// identityId.
func CheckVoucherIssue(issuerID string) error {
	if !VoucherIssue.Allow(issuerID) {
		return rateLimitedError()
	}
	return nil
}

// CheckRecoveryAttempt checks the recovery-flow limiter for a client IP.
func CheckRecoveryAttempt(ip string) error {
	if !RecoveryAttempt.Allow(ip) {
		return rateLimitedError()
	}
	return nil
}

func rateLimitedError() error {
	return problem.New(problem.KindRateLimited, "rate limit exceeded, try again shortly")
}

// IPRateLimitMiddleware rate-limits every request by client IP as a
// coarse outer bound, ahead of the per-route limiters above.
func IPRateLimitMiddleware(ctx huma.Context, next func(huma.Context)) {
	ip := clientIP(ctx)
	if !PublicFeedRead.Allow(ip) {
		ctx.SetStatus(429)
		ctx.SetHeader("Content-Type", "application/problem+json")
		ctx.BodyWriter().Write([]byte(`{"type":"about:blank","title":"Too Many Requests","status":429,"code":"RATE_LIMITED","detail":"Rate limit exceeded. Try again shortly."}`))
		return
	}
	next(ctx)
}

// clientIP extracts the client IP from X-Real-IP (set by nginx to
// $remote_addr, not spoofable). Falls back to RemoteAddr if X-Real-IP is
// absent (direct access without proxy).
func clientIP(ctx huma.Context) string {
	if realIP := ctx.Header("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	addr := ctx.RemoteAddr()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
