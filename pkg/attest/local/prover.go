// Package local is an in-process Groth16 attestation backend.
package local

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"github.com/yourorg/socialzk/circuits"
	"github.com/yourorg/socialzk/pkg/attest"
	"github.com/yourorg/socialzk/pkg/wallet"
	"github.com/yourorg/socialzk/pkg/witness"
)

const (
	pkFile = "social_pk.bin"
	vkFile = "social_vk.bin"
)

var ErrNoSigner = errors.New("no signer")

// Proof is the textual proof form returned to callers.
type Proof struct {
	Protocol string        `json:"protocol"`
	Curve    string        `json:"curve"`
	Data     hexutil.Bytes `json:"data"`
}

type Option func(*Prover)

// WithKeysDir caches the proving and verifying keys in dir.
func WithKeysDir(dir string) Option {
	return func(p *Prover) { p.keysDir = dir }
}

func WithLogger(l log.Logger) Option {
	return func(p *Prover) { p.log = l }
}

// Prover compiles the ownership circuit and runs the trusted setup once per
// process, on first use.
type Prover struct {
	cfg     attest.Config
	keysDir string
	log     log.Logger

	once     sync.Once
	setupErr error
	ccs      constraint.ConstraintSystem
	pk       groth16.ProvingKey
	vk       groth16.VerifyingKey
}

func New(cfg attest.Config, opts ...Option) (*Prover, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Prover{cfg: cfg, log: log.New("module", "attest/local")}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Prover) CreateProof(ctx context.Context, req attest.Request) (*attest.Result, error) {
	if req.Signer == nil {
		return nil, ErrNoSigner
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.setup(); err != nil {
		return nil, err
	}

	account := req.Signer.Address()
	bundle, err := witness.Build(req.SocialID, account, p.cfg.SchemaID)
	if err != nil {
		return nil, err
	}
	sig, err := req.Signer.SignText(ctx, attest.Challenge(p.cfg, bundle.Public.Commitment))
	if err != nil {
		return nil, fmt.Errorf("sign commitment: %w", err)
	}

	start := time.Now()
	proof, err := groth16.Prove(p.ccs, p.pk, bundle.Full)
	if err != nil {
		return nil, fmt.Errorf("prove: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode proof: %w", err)
	}
	p.log.Debug("Proof generated", "account", wallet.NormalizeAddress(account), "elapsed", time.Since(start))

	return &attest.Result{
		Proof: Proof{
			Protocol: "groth16",
			Curve:    circuits.Curve().String(),
			Data:     buf.Bytes(),
		},
		PublicInputs: map[string]any{
			"commitment": bundle.Public.Commitment,
			"account":    wallet.NormalizeAddress(account),
			"schema":     bundle.Public.Schema,
			"schemaId":   p.cfg.SchemaID,
			"appId":      p.cfg.AppID,
			"signature":  hexutil.Encode(sig),
		},
	}, nil
}

// Setup compiles the circuit and loads or generates the keys now instead of
// on the first proof.
func (p *Prover) Setup() error {
	return p.setup()
}

// VerifyingKey returns the key matching the proofs this prover emits.
func (p *Prover) VerifyingKey() (groth16.VerifyingKey, error) {
	if err := p.setup(); err != nil {
		return nil, err
	}
	return p.vk, nil
}

func (p *Prover) setup() error {
	p.once.Do(func() { p.setupErr = p.doSetup() })
	return p.setupErr
}

func (p *Prover) doSetup() error {
	ccs, err := frontend.Compile(
		circuits.Curve().ScalarField(),
		r1cs.NewBuilder,
		&circuits.SocialOwnershipCircuit{},
	)
	if err != nil {
		return fmt.Errorf("compile circuit: %w", err)
	}
	p.ccs = ccs

	var csBuf bytes.Buffer
	if _, err := ccs.WriteTo(&csBuf); err == nil {
		sum := sha256.Sum256(csBuf.Bytes())
		p.log.Info("Circuit compiled", "constraints", ccs.GetNbConstraints(), "hash", fmt.Sprintf("%x", sum[:4]))
	}

	if p.keysDir != "" {
		if ok, err := p.loadKeys(); err != nil {
			p.log.Warn("Ignoring unreadable key cache", "dir", p.keysDir, "err", err)
		} else if ok {
			return nil
		}
	}

	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	p.pk, p.vk = pk, vk

	if p.keysDir != "" {
		if err := p.storeKeys(); err != nil {
			p.log.Warn("Failed to cache keys", "dir", p.keysDir, "err", err)
		}
	}
	return nil
}

func (p *Prover) loadKeys() (bool, error) {
	pkBytes, err := os.ReadFile(filepath.Join(p.keysDir, pkFile))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	vkBytes, err := os.ReadFile(filepath.Join(p.keysDir, vkFile))
	if err != nil {
		return false, err
	}

	pk := groth16.NewProvingKey(circuits.Curve())
	if _, err := pk.ReadFrom(bytes.NewReader(pkBytes)); err != nil {
		return false, fmt.Errorf("read proving key: %w", err)
	}
	vk := groth16.NewVerifyingKey(circuits.Curve())
	if _, err := vk.ReadFrom(bytes.NewReader(vkBytes)); err != nil {
		return false, fmt.Errorf("read verifying key: %w", err)
	}
	p.pk, p.vk = pk, vk
	p.log.Info("Loaded cached keys", "dir", p.keysDir)
	return true, nil
}

func (p *Prover) storeKeys() error {
	if err := os.MkdirAll(p.keysDir, 0o755); err != nil {
		return err
	}
	var b bytes.Buffer
	if _, err := p.pk.WriteTo(&b); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(p.keysDir, pkFile), b.Bytes(), 0o644); err != nil {
		return err
	}
	b.Reset()
	if _, err := p.vk.WriteTo(&b); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.keysDir, vkFile), b.Bytes(), 0o644)
}
