package handlers

import (
	"net/http"

	"github.com/PaulFidika/receiptkit/adapters/ginutil"
	core "github.com/PaulFidika/receiptkit/core"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func HandlePoliciesPOST(svc *core.Service, rl ginutil.RateLimiter, log logrus.FieldLogger) gin.HandlerFunc {
	type grantReq struct {
		ResourceID   string `json:"resourceId"`
		GranteeID    string `json:"granteeId"`
		DurationDays *int   `json:"durationDays"`
	}
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLPolicyGrant) {
			ginutil.TooMany(c)
			return
		}
		var req grantReq
		if err := c.ShouldBindJSON(&req); err != nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		res, err := svc.GrantAccess(c.Request.Context(), ginutil.Credential(c), core.GrantRequest{
			ResourceID:   req.ResourceID,
			GranteeID:    req.GranteeID,
			DurationDays: req.DurationDays,
		})
		if err != nil {
			ginutil.AccessErr(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}
