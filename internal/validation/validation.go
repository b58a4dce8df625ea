// Package validation provides input validation middleware for the LiveWatch API.
package validation

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for free-text fields (transcripts, captions)
const MaxStringLength = 10000

// handleRegex validates social-media account handles: lowercase letters,
// digits, dots and underscores, 1-30 chars.
var handleRegex = regexp.MustCompile(`^[a-z0-9._]{1,30}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidHandle checks if a string is a valid account handle
func IsValidHandle(handle string) bool {
	return handleRegex.MatchString(handle)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// SanitizeHandle normalizes an account handle: trims whitespace, lowercases,
// and strips a leading @ if present.
func SanitizeHandle(handle string) string {
	handle = strings.TrimSpace(handle)
	handle = strings.ToLower(handle)
	handle = strings.TrimPrefix(handle, "@")
	return handle
}

// ValidationError describes a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of field validation failures.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	parts := make([]string, len(e))
	for i, v := range e {
		parts[i] = fmt.Sprintf("%s: %s", v.Field, v.Message)
	}
	return strings.Join(parts, "; ")
}

// Validate runs a set of field validators and collects failures.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required validates that a field is non-empty.
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidHandle validates an account handle field.
func ValidHandle(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if !IsValidHandle(SanitizeHandle(value)) {
			return &ValidationError{Field: field, Message: "must be 1-30 lowercase letters, digits, dots or underscores"}
		}
		return nil
	}
}

// MaxLength validates that a field does not exceed a maximum length.
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d characters", max)}
		}
		return nil
	}
}

// HandleParamMiddleware validates the :handle URL parameter on routes that
// carry one. Requests with a malformed handle are rejected before reaching
// handlers. No-op when the param is absent.
func HandleParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		handle := c.Param("handle")
		if handle != "" && !IsValidHandle(SanitizeHandle(handle)) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_handle",
				"message": "Handle must be 1-30 lowercase letters, digits, dots or underscores",
			})
			return
		}
		c.Next()
	}
}
