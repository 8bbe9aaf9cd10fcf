package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	// Wallet address regex: 0x followed by 40 hex characters
	walletAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

// RequireAuth implements HTTP Basic Authentication and stores the resolved
// user id in the context for downstream handlers and the rate limiter.
func RequireAuth() gin.HandlerFunc {
	username := os.Getenv("AUTH_USERNAME")
	password := os.Getenv("AUTH_PASSWORD")

	return func(c *gin.Context) {
		// Skip auth if credentials not configured (local development)
		if username == "" || password == "" {
			c.Set("userID", "local")
			c.Next()
			return
		}

		user, pass, hasAuth := c.Request.BasicAuth()
		if !hasAuth {
			c.Header("WWW-Authenticate", `Basic realm="Copy Trader"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		// Use constant-time comparison to prevent timing attacks
		usernameMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		passwordMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1

		if !usernameMatch || !passwordMatch {
			c.Header("WWW-Authenticate", `Basic realm="Copy Trader"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		c.Set("userID", user)
		c.Next()
	}
}

// ValidateWalletAddress validates that the :address parameter is a valid
// wallet address and stores the normalized form in the context.
func ValidateWalletAddress() gin.HandlerFunc {
	return func(c *gin.Context) {
		address := c.Param("address")
		if address == "" {
			c.Next()
			return
		}

		address = strings.ToLower(strings.TrimSpace(address))

		if !walletAddressRegex.MatchString(address) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "Invalid wallet address. Must be 0x followed by 40 hex characters",
			})
			return
		}

		c.Set("validatedAddress", address)
		c.Next()
	}
}

// ValidateQueryParams validates common query parameters
func ValidateQueryParams() gin.HandlerFunc {
	return func(c *gin.Context) {
		if limitStr := c.Query("limit"); limitStr != "" {
			limit, err := strconv.Atoi(limitStr)
			if err != nil || limit < 1 || limit > 10000 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "Invalid limit parameter. Must be a positive integer between 1 and 10000",
				})
				return
			}
		}

		if minVolumeStr := c.Query("min_volume"); minVolumeStr != "" {
			minVolume, err := strconv.ParseFloat(minVolumeStr, 64)
			if err != nil || minVolume < 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "Invalid min_volume parameter. Must be a non-negative number",
				})
				return
			}
		}

		if minTradesStr := c.Query("min_trades"); minTradesStr != "" {
			minTrades, err := strconv.Atoi(minTradesStr)
			if err != nil || minTrades < 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "Invalid min_trades parameter. Must be a non-negative integer",
				})
				return
			}
		}

		c.Next()
	}
}

// IsValidWalletAddress reports whether addr is a well-formed wallet address.
func IsValidWalletAddress(addr string) bool {
	return walletAddressRegex.MatchString(strings.ToLower(strings.TrimSpace(addr)))
}
