package response

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Message returns the text for code in the best matching locale. locale may
// be a raw Accept-Language header; unknown languages fall back to English.
func Message(code int, locale string) string {
	if texts, ok := msg[language(locale)]; ok {
		if text, ok := texts[code]; ok {
			return text
		}
	}
	return msg[defaultLocale][code]
}

// Error aborts the request with a localized error body.
func Error(c *gin.Context, status, code int) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":  code,
		"error": Message(code, c.GetHeader("Accept-Language")),
	})
}

// language reduces "fr-CA,fr;q=0.9,en;q=0.8" to "fr".
func language(header string) string {
	tag, _, _ := strings.Cut(header, ",")
	tag, _, _ = strings.Cut(tag, ";")
	tag, _, _ = strings.Cut(strings.TrimSpace(tag), "-")
	tag, _, _ = strings.Cut(tag, "_")
	if tag == "" {
		return defaultLocale
	}
	return strings.ToLower(tag)
}
