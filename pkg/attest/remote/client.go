// Package remote talks to an attestation backend over JSON-RPC.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/yourorg/socialzk/pkg/attest"
	"github.com/yourorg/socialzk/pkg/wallet"
)

const method = "attest_createProof"

var ErrNoSigner = errors.New("no signer")

type ProofRequest struct {
	SchemaID  string        `json:"schemaId"`
	AppID     string        `json:"appId"`
	SocialID  string        `json:"socialId"`
	Account   string        `json:"account"`
	Signature hexutil.Bytes `json:"signature"`
}

type ProofResponse struct {
	Proof        json.RawMessage `json:"proof"`
	PublicInputs map[string]any  `json:"publicInputs"`
}

type Client struct {
	cfg attest.Config
	rpc *rpc.Client
	log log.Logger
}

// Dial connects to the backend at url. The bearer token travels in the
// Authorization header of every call.
func Dial(ctx context.Context, url string, cfg attest.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := rpc.DialOptions(ctx, url, rpc.WithHeader("Authorization", "Bearer "+cfg.BearerToken))
	if err != nil {
		return nil, fmt.Errorf("dial attestation backend: %w", err)
	}
	return &Client{cfg: cfg, rpc: c, log: log.New("module", "attest/remote")}, nil
}

func (c *Client) Close() { c.rpc.Close() }

func (c *Client) CreateProof(ctx context.Context, req attest.Request) (*attest.Result, error) {
	if req.Signer == nil {
		return nil, ErrNoSigner
	}
	sig, err := req.Signer.SignText(ctx, attest.Challenge(c.cfg, req.SocialID))
	if err != nil {
		return nil, fmt.Errorf("sign challenge: %w", err)
	}

	account := wallet.NormalizeAddress(req.Signer.Address())
	c.log.Debug("Requesting proof", "schema", c.cfg.SchemaID, "account", account)

	var resp *ProofResponse
	err = c.rpc.CallContext(ctx, &resp, method, ProofRequest{
		SchemaID:  c.cfg.SchemaID,
		AppID:     c.cfg.AppID,
		SocialID:  req.SocialID,
		Account:   account,
		Signature: sig,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", attest.ErrMalformedResult)
	}
	res := &attest.Result{PublicInputs: resp.PublicInputs}
	if len(resp.Proof) > 0 && string(resp.Proof) != "null" {
		res.Proof = resp.Proof
	}
	return res, nil
}
