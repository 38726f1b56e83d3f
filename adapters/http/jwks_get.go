// Package receipthttp holds net/http pieces that do not depend on gin.
package receipthttp

import (
	"net/http"

	jwtkit "github.com/PaulFidika/receiptkit/jwt"
)

// JWKSHandler serves the public JWKS document for access token keys.
func JWKSHandler(ks jwtkit.KeySource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwtkit.ServeJWKS(w, r, jwtkit.JWKSFromSource(ks))
	})
}
