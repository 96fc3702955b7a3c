package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ValidatorConfig holds request validation limits.
type ValidatorConfig struct {
	MaxBodySize      int64
	AllowedTaskKinds []string
	CommandBlacklist []string
	MaxNameLength    int
	MaxCommandLength int
}

func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxBodySize:      1 << 20,
		AllowedTaskKinds: []string{"shell", "ai_prompt", "slash_command", "subagent", "tool_invocation", "generic_ai_query"},
		CommandBlacklist: []string{"rm -rf /", ":(){ :|:& };:", "mkfs", "dd if="},
		MaxNameLength:    256,
		MaxCommandLength: 4096,
	}
}

// Validator performs structural and content checks ahead of task
// persistence, independent of the engine's own validateTask rules.
type Validator struct {
	config           ValidatorConfig
	dangerousPattern *regexp.Regexp
}

func NewValidator(config ValidatorConfig) *Validator {
	patterns := make([]string, len(config.CommandBlacklist))
	for i, p := range config.CommandBlacklist {
		patterns[i] = regexp.QuoteMeta(p)
	}
	return &Validator{
		config:           config,
		dangerousPattern: regexp.MustCompile(strings.Join(patterns, "|")),
	}
}

// ValidationError carries a field-scoped validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (v *Validator) ValidateCommand(command string) error {
	if len(command) > v.config.MaxCommandLength {
		return &ValidationError{Field: "config.command", Message: "command exceeds maximum length"}
	}
	if command != "" && v.dangerousPattern.MatchString(command) {
		return &ValidationError{Field: "config.command", Message: "command contains a blacklisted pattern"}
	}
	return nil
}

func (v *Validator) ValidateTaskKind(kind string) error {
	for _, allowed := range v.config.AllowedTaskKinds {
		if kind == allowed {
			return nil
		}
	}
	return &ValidationError{Field: "kind", Message: "unsupported task kind"}
}

func (v *Validator) ValidateName(name string) error {
	if len(name) == 0 {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if len(name) > v.config.MaxNameLength {
		return &ValidationError{Field: "name", Message: "name exceeds maximum length"}
	}
	return nil
}

// BodySizeLimitMiddleware rejects oversized request bodies early.
func BodySizeLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// SecurityHeadersMiddleware adds standard defensive response headers.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

const ContextRequestIDKey = "request_id"

// RequestIDMiddleware assigns a UUID request id, honoring an inbound
// X-Request-ID header when the caller already has one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(ContextRequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// TaskIDParam validates the :id path parameter parses as a UUID before
// the handler touches the store.
func TaskIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid id: must be a uuid"})
		return uuid.Nil, false
	}
	return id, true
}
