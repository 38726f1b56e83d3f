package handlers

import (
	"net/http"

	"github.com/PaulFidika/receiptkit/adapters/ginutil"
	core "github.com/PaulFidika/receiptkit/core"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HandlePoliciesGET lists the caller's policies, optionally for one resource.
func HandlePoliciesGET(svc *core.Service, rl ginutil.RateLimiter, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLPolicyList) {
			ginutil.TooMany(c)
			return
		}
		views, err := svc.ListPolicies(c.Request.Context(), ginutil.Credential(c), c.Query("resourceId"))
		if err != nil {
			ginutil.AccessErr(c, log, err)
			return
		}
		if views == nil {
			views = []core.PolicyView{}
		}
		c.JSON(http.StatusOK, gin.H{"data": views})
	}
}

func HandlePolicyGET(svc *core.Service, rl ginutil.RateLimiter, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLPolicyList) {
			ginutil.TooMany(c)
			return
		}
		view, err := svc.GetPolicy(c.Request.Context(), ginutil.Credential(c), c.Param("id"))
		if err != nil {
			ginutil.AccessErr(c, log, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}
