// Package attest defines the attestation provider capability: a service that,
// given a social identifier and a wallet signer, returns a proof together with
// its public inputs.
package attest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yourorg/socialzk/pkg/wallet"
)

var (
	ErrInvalidConfig   = errors.New("invalid attestation config")
	ErrMalformedResult = errors.New("malformed attestation result")
)

// Config is fixed for the lifetime of the process.
type Config struct {
	SchemaID    string `yaml:"schema_id"`
	AppID       string `yaml:"app_id"`
	BearerToken string `yaml:"bearer_token"`
}

func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.SchemaID) == "" {
		missing = append(missing, "schema id")
	}
	if strings.TrimSpace(c.AppID) == "" {
		missing = append(missing, "app id")
	}
	if strings.TrimSpace(c.BearerToken) == "" {
		missing = append(missing, "bearer token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}

// String hides the bearer token.
func (c Config) String() string {
	return fmt.Sprintf("schema=%s app=%s", c.SchemaID, c.AppID)
}

type Request struct {
	SocialID string
	Signer   wallet.Signer
}

type Result struct {
	Proof        any
	PublicInputs map[string]any
}

// Check rejects results that cannot be turned into an artifact.
func (r *Result) Check() error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: empty result", ErrMalformedResult)
	case r.Proof == nil:
		return fmt.Errorf("%w: missing proof", ErrMalformedResult)
	case r.PublicInputs == nil:
		return fmt.Errorf("%w: missing public inputs", ErrMalformedResult)
	}
	return nil
}

// Provider creates proofs. Implementations make a single attempt per call.
type Provider interface {
	CreateProof(ctx context.Context, req Request) (*Result, error)
}

// Challenge is the message a signer endorses to bind its account to subject
// (a social identifier or a commitment to one) under a schema and app.
func Challenge(cfg Config, subject string) []byte {
	return []byte(fmt.Sprintf("socialzk attestation\nschema: %s\napp: %s\nsubject: %s", cfg.SchemaID, cfg.AppID, subject))
}
