// Package ratelimit holds the bucket names and default limits shared by the
// memory and Redis limiters.
package ratelimit

import "time"

// Limit defines window and max count for a bucket.
type Limit struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

const (
	BucketGrant     = "policy_grant"
	BucketRevoke    = "policy_revoke"
	BucketDecrypt   = "policy_decrypt"
	BucketList      = "policy_list"
	BucketChallenge = "siws_challenge"
	BucketLogin     = "siws_verify"

	// BucketDefault applies to any bucket without its own entry.
	BucketDefault = "default"
)

// DefaultLimits are per-client limits for every route the server exposes.
// Decrypt is the most expensive call since it reaches the PRE network.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		BucketGrant:     {Limit: 30, Window: time.Minute},
		BucketRevoke:    {Limit: 30, Window: time.Minute},
		BucketDecrypt:   {Limit: 20, Window: time.Minute},
		BucketList:      {Limit: 120, Window: time.Minute},
		BucketChallenge: {Limit: 20, Window: time.Minute},
		BucketLogin:     {Limit: 10, Window: time.Minute},
		BucketDefault:   {Limit: 100, Window: time.Minute},
	}
}

// Lookup returns the limit for bucket, falling back to the default bucket
// and then to 100 per minute.
func Lookup(limits map[string]Limit, bucket string) Limit {
	if v, ok := limits[bucket]; ok {
		return v
	}
	if v, ok := limits[BucketDefault]; ok {
		return v
	}
	return Limit{Limit: 100, Window: time.Minute}
}
