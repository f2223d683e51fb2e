package middleware

import "github.com/gin-gonic/gin"

const (
	// DefaultContentSecurityPolicy restricts resources to same origin and forbids framing.
	DefaultContentSecurityPolicy = "default-src 'self'; frame-ancestors 'none'"
	// ConnectorContentSecurityPolicy is served with the connector page, which requesting
	// applications embed in a frame.
	ConnectorContentSecurityPolicy = "default-src 'self'; frame-ancestors *"
)

// SecurityHeaders applies common HTTP response headers that harden the API and the popup
// pages against clickjacking and MIME sniffing, and enforce HTTPS transport.
func SecurityHeaders() gin.HandlerFunc {
	return securityHeaders(true, DefaultContentSecurityPolicy)
}

// ConnectorHeaders applies the security headers of the embeddable connector page.
func ConnectorHeaders() gin.HandlerFunc {
	return securityHeaders(false, ConnectorContentSecurityPolicy)
}

func securityHeaders(denyFraming bool, policy string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if denyFraming {
			c.Header("X-Frame-Options", "DENY")
		}
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("Content-Security-Policy", policy)
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		c.Next()
	}
}
