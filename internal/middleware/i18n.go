// internal/middleware/i18n.go
package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const defaultLang = "en"

// languageTags maps Accept-Language tags onto locale names.
var languageTags = map[string]string{
	"en":      "en",
	"zh-tw":   "zh_TW",
	"zh_tw":   "zh_TW",
	"zh-hant": "zh_TW",
	"zh-hk":   "zh_TW",
}

// negotiateLang picks the highest-weighted supported locale from an
// Accept-Language header. Ties keep header order.
func negotiateLang(header string) string {
	best, bestQ := defaultLang, -1.0
	for _, part := range strings.Split(header, ",") {
		fields := strings.Split(part, ";")
		tag := strings.ToLower(strings.TrimSpace(fields[0]))
		q := 1.0
		for _, param := range fields[1:] {
			if v, ok := strings.CutPrefix(strings.TrimSpace(param), "q="); ok {
				if parsed, err := strconv.ParseFloat(v, 64); err == nil {
					q = parsed
				}
			}
		}
		lang, ok := languageTags[tag]
		if !ok && strings.HasPrefix(tag, "en-") {
			lang, ok = defaultLang, true
		}
		if ok && q > bestQ {
			best, bestQ = lang, q
		}
	}
	return best
}

// I18nMiddleware stores the request locale under "lang". A ?lang= query
// overrides the header.
func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := negotiateLang(c.GetHeader("Accept-Language"))
		if q, ok := languageTags[strings.ToLower(c.Query("lang"))]; ok {
			lang = q
		}
		c.Set("lang", lang)
		c.Next()
	}
}
