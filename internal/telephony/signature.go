package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"campaign-engine/pkg/logger"

	"github.com/gin-gonic/gin"
)

// SignatureHeader carries the request signature on every Twilio webhook.
const SignatureHeader = "X-Twilio-Signature"

// ComputeSignature is base64(HMAC-SHA1(token, url + sorted key/value pairs)).
func ComputeSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func ValidateSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	want := ComputeSignature(authToken, fullURL, params)
	return hmac.Equal([]byte(want), []byte(signature))
}

// RequireSignature rejects webhooks whose signature does not match the
// token of the workspace named in the callback URL. publicBaseURL is the
// externally visible scheme+host the provider signed against.
// Workspaces whose provider has no token (loopback) pass through.
func RequireSignature(tokens *Registry, publicBaseURL string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		token := tokens.AuthToken(c.Query("workspace_id"))
		if token == "" {
			c.Next()
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		full := base + c.Request.URL.RequestURI()
		if !ValidateSignature(token, full, c.Request.PostForm, c.GetHeader(SignatureHeader)) {
			logger.FromGin(c).Warn("webhook signature rejected", "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
