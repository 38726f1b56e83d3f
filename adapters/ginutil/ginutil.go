// Package ginutil holds the small response, rate-limit and credential helpers
// shared by the gin handlers.
package ginutil

import (
	"context"
	"errors"
	"net/http"

	"github.com/PaulFidika/receiptkit/core"
	"github.com/PaulFidika/receiptkit/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Rate limit buckets, one per route.
const (
	RLPolicyGrant   = ratelimit.BucketGrant
	RLPolicyRevoke  = ratelimit.BucketRevoke
	RLPolicyDecrypt = ratelimit.BucketDecrypt
	RLPolicyList    = ratelimit.BucketList
	RLSIWSChallenge = ratelimit.BucketChallenge
	RLSIWSVerify    = ratelimit.BucketLogin
)

// RateLimiter is satisfied by memorylimiter.Limiter and redislimiter.Limiter.
type RateLimiter interface {
	Allow(ctx context.Context, bucket, key string) (bool, error)
}

// AllowNamed applies bucket to the client IP. A nil limiter allows
// everything; a limiter error fails open and is attached to the context.
func AllowNamed(c *gin.Context, rl RateLimiter, bucket string) bool {
	if rl == nil {
		return true
	}
	ok, err := rl.Allow(c.Request.Context(), bucket, c.ClientIP())
	if err != nil {
		_ = c.Error(err)
		return true
	}
	return ok
}

func TooMany(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
}

func BadRequest(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": code})
}

func Unauthorized(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": code})
}

func ServerErr(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": code})
}

// ServerErrWithLog logs err with request context and answers with a generic
// body; the detail never reaches the caller.
func ServerErrWithLog(c *gin.Context, log logrus.FieldLogger, err error, code string) {
	if log != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("request failed")
	}
	ServerErr(c, code)
}

var kindStatus = map[core.ErrorKind]int{
	core.KindUnauthorized:    http.StatusUnauthorized,
	core.KindInvalidResource: http.StatusNotFound,
	core.KindInvalidGrantee:  http.StatusBadRequest,
	core.KindInvalidRequest:  http.StatusBadRequest,
	core.KindNotFound:        http.StatusNotFound,
	core.KindNoAccess:        http.StatusForbidden,
	core.KindUpstream:        http.StatusBadGateway,
}

// StatusOf maps an access-control error to its HTTP status. Untyped errors
// are 500.
func StatusOf(err error) int {
	if kind, ok := core.KindOf(err); ok {
		if st, ok := kindStatus[kind]; ok {
			return st
		}
	}
	return http.StatusInternalServerError
}

// AccessErr writes err as {"error": kind}. Upstream and untyped errors are
// logged first.
func AccessErr(c *gin.Context, log logrus.FieldLogger, err error) {
	kind, ok := core.KindOf(err)
	if !ok {
		ServerErrWithLog(c, log, err, "internal")
		return
	}
	if errors.Is(err, core.ErrUpstream) && log != nil {
		log.WithError(err).WithField("path", c.FullPath()).Warn("re-encryption network failed")
	}
	c.AbortWithStatusJSON(StatusOf(err), gin.H{"error": string(kind)})
}

const credentialKey = "receiptkit.credential"

// SetCredential stores the parsed caller credential on the context.
func SetCredential(c *gin.Context, cred core.Credential) { c.Set(credentialKey, cred) }

// Credential returns the caller credential, or the zero value which the
// access controller rejects as Unauthorized.
func Credential(c *gin.Context) core.Credential {
	if v, ok := c.Get(credentialKey); ok {
		if cred, ok := v.(core.Credential); ok {
			return cred
		}
	}
	return core.Credential{}
}
