package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/PaulFidika/receiptkit/adapters/ginutil"
	"github.com/PaulFidika/receiptkit/credential"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func HandleSIWSChallengePOST(svc *credential.SIWSService, rl ginutil.RateLimiter, log logrus.FieldLogger) gin.HandlerFunc {
	type challengeReq struct {
		Address string `json:"address"`
	}
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLSIWSChallenge) {
			ginutil.TooMany(c)
			return
		}
		var req challengeReq
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Address) == "" {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		ch, err := svc.Challenge(c.Request.Context(), strings.TrimSpace(req.Address))
		if errors.Is(err, credential.ErrInvalidAddress) {
			ginutil.BadRequest(c, "invalid_address")
			return
		}
		if err != nil {
			ginutil.ServerErrWithLog(c, log, err, "challenge_failed")
			return
		}
		c.JSON(http.StatusOK, ch)
	}
}
