package handlers

import (
	"net/http"

	"github.com/PaulFidika/receiptkit/adapters/ginutil"
	core "github.com/PaulFidika/receiptkit/core"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HandlePolicyDELETE revokes a policy. Revoking twice is a 204 both times.
func HandlePolicyDELETE(svc *core.Service, rl ginutil.RateLimiter, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLPolicyRevoke) {
			ginutil.TooMany(c)
			return
		}
		if err := svc.RevokeAccess(c.Request.Context(), ginutil.Credential(c), c.Param("id")); err != nil {
			ginutil.AccessErr(c, log, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
