package handlers

import (
	"net/http"

	"github.com/PaulFidika/receiptkit/adapters/ginutil"
	core "github.com/PaulFidika/receiptkit/core"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func HandlePoliciesDecryptPOST(svc *core.Service, rl ginutil.RateLimiter, log logrus.FieldLogger) gin.HandlerFunc {
	type decryptReq struct {
		ResourceID string `json:"resourceId"`
	}
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLPolicyDecrypt) {
			ginutil.TooMany(c)
			return
		}
		var req decryptReq
		if err := c.ShouldBindJSON(&req); err != nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		pt, err := svc.Decrypt(c.Request.Context(), ginutil.Credential(c), req.ResourceID)
		if err != nil {
			ginutil.AccessErr(c, log, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		// []byte marshals as base64.
		c.JSON(http.StatusOK, gin.H{"plaintext": pt})
	}
}
