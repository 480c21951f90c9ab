// Package proof runs proof generation against an attestation provider on
// behalf of a connected wallet session.
package proof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/yourorg/socialzk/pkg/attest"
	"github.com/yourorg/socialzk/pkg/wallet"
)

var (
	ErrNotConnected          = wallet.ErrNotConnected
	ErrInvalidInput          = errors.New("social id must not be empty")
	ErrAlreadyInFlight       = errors.New("proof generation already in flight")
	ErrProofGenerationFailed = errors.New("proof generation failed")
	ErrSessionChanged        = errors.New("wallet session changed during proof generation")
)

// GenerationError carries the cause of a failed attestation call. It matches
// both ErrProofGenerationFailed and the cause.
type GenerationError struct {
	Cause error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%v: %v", ErrProofGenerationFailed, e.Cause)
}

func (e *GenerationError) Unwrap() []error {
	return []error{ErrProofGenerationFailed, e.Cause}
}

// Session is the part of the wallet session the pipeline borrows from.
type Session interface {
	Lend() (wallet.Lease, error)
	Valid(generation uint64) bool
}

type Request struct {
	SocialID string
}

// State is a point-in-time view of a Pipeline.
type State struct {
	InFlight bool
	Artifact *Artifact
	Error    string
}

type Option func(*Pipeline)

func WithLogger(l log.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithClock overrides the artifact timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline holds at most one proof artifact and runs at most one attestation
// call at a time.
type Pipeline struct {
	session  Session
	attester attest.Provider
	log      log.Logger
	now      func() time.Time

	mu       sync.Mutex
	inFlight bool
	artifact *Artifact
	err      error
}

func New(session Session, attester attest.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		session:  session,
		attester: attester,
		log:      log.New("module", "proof"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate invokes the attestation provider once for req. On success the new
// artifact replaces the current one. On failure the current artifact is kept
// and the error is recorded.
func (p *Pipeline) Generate(ctx context.Context, req Request) (*Artifact, error) {
	socialID := strings.TrimSpace(req.SocialID)

	p.mu.Lock()
	lease, err := p.session.Lend()
	switch {
	case err != nil:
		err = ErrNotConnected
	case socialID == "":
		err = ErrInvalidInput
	case p.inFlight:
		p.mu.Unlock()
		p.log.Debug("Ignoring duplicate proof request")
		return nil, ErrAlreadyInFlight
	}
	if err != nil {
		if !p.inFlight {
			p.err = err
		}
		p.mu.Unlock()
		return nil, err
	}
	p.inFlight = true
	p.err = nil
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	signer, gen := lease.Signer, lease.Generation
	account := wallet.NormalizeAddress(signer.Address())
	p.log.Info("Generating proof", "account", account)
	res, err := p.attester.CreateProof(ctx, attest.Request{SocialID: socialID, Signer: signer})

	var art *Artifact
	if err == nil {
		art, err = p.newArtifact(socialID, account, res)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		gerr := &GenerationError{Cause: err}
		p.err = gerr
		p.log.Warn("Proof generation failed", "err", err)
		return nil, gerr
	}
	if !p.session.Valid(gen) {
		p.err = ErrSessionChanged
		p.log.Warn("Discarding proof generated for a previous wallet session", "account", account)
		return nil, ErrSessionChanged
	}
	p.artifact = art
	p.log.Info("Proof ready", "id", art.ID, "account", account)
	return art, nil
}

func (p *Pipeline) newArtifact(socialID, account string, res *attest.Result) (*Artifact, error) {
	if err := res.Check(); err != nil {
		return nil, err
	}
	text, err := json.MarshalIndent(res.Proof, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", attest.ErrMalformedResult, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return &Artifact{
		ID:           "proof-" + id.String(),
		SocialID:     socialID,
		Account:      account,
		Proof:        string(text),
		PublicInputs: res.PublicInputs,
		CreatedAt:    p.now(),
	}, nil
}

// Reset discards the current artifact and error. It does not touch the
// wallet session.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.artifact = nil
	p.err = nil
	p.mu.Unlock()
}

func (p *Pipeline) Artifact() *Artifact {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.artifact
}

func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pipeline) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := State{InFlight: p.inFlight, Artifact: p.artifact}
	if p.err != nil {
		st.Error = p.err.Error()
	}
	return st
}
