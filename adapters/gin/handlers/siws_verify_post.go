package handlers

import (
	"errors"
	"net/http"

	"github.com/PaulFidika/receiptkit/adapters/ginutil"
	"github.com/PaulFidika/receiptkit/credential"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HandleSIWSVerifyPOST exchanges a signed challenge for an access token.
func HandleSIWSVerifyPOST(svc *credential.SIWSService, rl ginutil.RateLimiter, log logrus.FieldLogger) gin.HandlerFunc {
	type verifyReq struct {
		Message   string `json:"message"`
		Signature string `json:"signature"`
	}
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLSIWSVerify) {
			ginutil.TooMany(c)
			return
		}
		var req verifyReq
		if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" || req.Signature == "" {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		sess, err := svc.Login(c.Request.Context(), req.Message, req.Signature)
		switch {
		case errors.Is(err, credential.ErrBadSignature), errors.Is(err, credential.ErrUnknownNonce):
			ginutil.Unauthorized(c, "invalid_signature")
			return
		case err != nil:
			ginutil.ServerErrWithLog(c, log, err, "login_failed")
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}
