// Package preremote talks to a proxy re-encryption porter over HTTP.
//
// Wire format:
//
//	POST {base}/v1/rekeys    {"ownerKeyRef","granteePublicKey","policyId"} -> {"capsule"}
//	POST {base}/v1/reencrypt {"capsule","ciphertext"}                       -> {"plaintext"}
//
// Binary fields are standard base64 (Go's []byte JSON encoding).
package preremote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PaulFidika/receiptkit/core"
	"golang.org/x/oauth2/clientcredentials"
)

// Config describes how to reach the porter.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// Client credentials are optional. When TokenURL is set, every request
	// carries an OAuth2 bearer token obtained with them.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Client is a core.ReEncrypter backed by a remote porter.
type Client struct {
	base string
	http *http.Client
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("preremote: %s: %d %s", e.Op, e.Status, e.Body)
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("preremote: base url is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := &http.Client{Timeout: timeout}
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		hc = cc.Client(ctx)
		hc.Timeout = timeout
	}
	return &Client{base: base, http: hc}, nil
}

type rekeyRequest struct {
	OwnerKeyRef      string `json:"ownerKeyRef"`
	GranteePublicKey []byte `json:"granteePublicKey"`
	PolicyID         string `json:"policyId"`
}

type rekeyResponse struct {
	Capsule string `json:"capsule"`
}

type reencryptRequest struct {
	Capsule    string `json:"capsule"`
	Ciphertext string `json:"ciphertext"`
}

type reencryptResponse struct {
	Plaintext []byte `json:"plaintext"`
}

func (c *Client) IssueReEncryptionKey(ctx context.Context, ownerKeyRef string, granteePublicKey []byte, policyID string) (core.CapsuleRef, error) {
	var out rekeyResponse
	err := c.post(ctx, "rekeys", "/v1/rekeys", rekeyRequest{
		OwnerKeyRef:      ownerKeyRef,
		GranteePublicKey: granteePublicKey,
		PolicyID:         policyID,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Capsule == "" {
		return "", errors.New("preremote: rekeys: empty capsule")
	}
	return core.CapsuleRef(out.Capsule), nil
}

func (c *Client) ReEncrypt(ctx context.Context, capsule core.CapsuleRef, ct core.CiphertextRef) ([]byte, error) {
	var out reencryptResponse
	err := c.post(ctx, "reencrypt", "/v1/reencrypt", reencryptRequest{Capsule: string(capsule), Ciphertext: string(ct)}, &out)
	if err != nil {
		return nil, err
	}
	return out.Plaintext, nil
}

func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("preremote: %s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("preremote: %s: decode: %w", op, err)
	}
	return nil
}
