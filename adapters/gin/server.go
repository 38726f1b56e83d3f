// Package receiptgin mounts the access-control API on a gin router.
package receiptgin

import (
	"errors"
	"time"

	"github.com/PaulFidika/receiptkit/adapters/gin/handlers"
	"github.com/PaulFidika/receiptkit/adapters/ginutil"
	receipthttp "github.com/PaulFidika/receiptkit/adapters/http"
	core "github.com/PaulFidika/receiptkit/core"
	"github.com/PaulFidika/receiptkit/credential"
	jwtkit "github.com/PaulFidika/receiptkit/jwt"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Options configure Register. Service is required; the SIWS login routes and
// JWKS endpoint are mounted only when SIWS and Keys are set.
type Options struct {
	Service     *core.Service
	SIWS        *credential.SIWSService
	Keys        jwtkit.KeySource
	RateLimiter ginutil.RateLimiter
	Logger      logrus.FieldLogger
}

// Register mounts every route on r:
//
//	POST   /policies
//	GET    /policies
//	POST   /policies/decrypt
//	GET    /policies/:id
//	DELETE /policies/:id
//	POST   /auth/siws/challenge
//	POST   /auth/siws/verify
//	GET    /.well-known/jwks.json
//	GET    /healthz
func Register(r gin.IRouter, opts Options) error {
	if opts.Service == nil {
		return errors.New("receiptgin: service is required")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	svc, rl := opts.Service, opts.RateLimiter

	r.GET("/healthz", handlers.HandleHealthzGET())

	p := r.Group("/policies", CredentialMiddleware())
	p.POST("", handlers.HandlePoliciesPOST(svc, rl, log))
	p.GET("", handlers.HandlePoliciesGET(svc, rl, log))
	p.POST("/decrypt", handlers.HandlePoliciesDecryptPOST(svc, rl, log))
	p.GET("/:id", handlers.HandlePolicyGET(svc, rl, log))
	p.DELETE("/:id", handlers.HandlePolicyDELETE(svc, rl, log))

	if opts.SIWS != nil {
		a := r.Group("/auth/siws")
		a.POST("/challenge", handlers.HandleSIWSChallengePOST(opts.SIWS, rl, log))
		a.POST("/verify", handlers.HandleSIWSVerifyPOST(opts.SIWS, rl, log))
	}
	if opts.Keys != nil {
		r.GET("/.well-known/jwks.json", gin.WrapH(receipthttp.JWKSHandler(opts.Keys)))
	}
	return nil
}

// NewEngine returns a gin engine with recovery and request logging, with
// every route registered.
func NewEngine(opts Options) (*gin.Engine, error) {
	e := gin.New()
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	e.Use(gin.Recovery(), RequestLogger(log))
	if err := Register(e, opts); err != nil {
		return nil, err
	}
	return e, nil
}

// RequestLogger logs one line per request. Credentials are never logged.
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request")
		case c.Writer.Status() >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

// CredentialMiddleware parses the Authorization header. A missing or
// malformed header leaves no credential, which the access controller turns
// into Unauthorized.
func CredentialMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if cred, err := credential.Parse(c.GetHeader("Authorization")); err == nil {
			ginutil.SetCredential(c, cred)
		}
		c.Next()
	}
}
