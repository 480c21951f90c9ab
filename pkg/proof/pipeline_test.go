package proof_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/socialzk/pkg/attest"
	"github.com/yourorg/socialzk/pkg/proof"
	"github.com/yourorg/socialzk/pkg/wallet"
	"github.com/yourorg/socialzk/pkg/wallet/memwallet"
)

/* ---------------- fake attestation provider ---------------- */

type fakeAttester struct {
	mu    sync.Mutex
	calls []attest.Request
	gate  chan struct{}
	res   *attest.Result
	err   error
}

func (f *fakeAttester) CreateProof(ctx context.Context, req attest.Request) (*attest.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	gate, res, err := f.gate, f.res, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return res, err
}

func (f *fakeAttester) set(res *attest.Result, err error) {
	f.mu.Lock()
	f.res, f.err = res, err
	f.mu.Unlock()
}

func (f *fakeAttester) block() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gate = ch
	f.mu.Unlock()
	return func() { close(ch) }
}

func (f *fakeAttester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func okResult() *attest.Result {
	return &attest.Result{
		Proof:        map[string]any{"pi_a": []string{"1", "2"}},
		PublicInputs: map[string]any{"handle": "alice", "followers": 42},
	}
}

/* ---------------- fixtures ---------------- */

func connectedSession(t *testing.T) (*wallet.Session, *memwallet.Wallet) {
	t.Helper()
	w, err := memwallet.Generate(2)
	require.NoError(t, err)
	s := wallet.New(w)
	t.Cleanup(s.Close)
	require.NoError(t, s.Connect(context.Background()))
	return s, w
}

var fixed = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixed }

/* ---------------- tests ---------------- */

func TestGenerateNotConnected(t *testing.T) {
	w, err := memwallet.Generate(1)
	require.NoError(t, err)
	s := wallet.New(w)
	defer s.Close()

	f := &fakeAttester{res: okResult()}
	p := proof.New(s, f)

	art, err := p.Generate(context.Background(), proof.Request{SocialID: "alice"})
	require.ErrorIs(t, err, proof.ErrNotConnected)
	require.Nil(t, art)
	require.Nil(t, p.Artifact())
	require.ErrorIs(t, p.Err(), proof.ErrNotConnected)
	require.Zero(t, f.count())
}

func TestGenerateInvalidInput(t *testing.T) {
	s, _ := connectedSession(t)
	f := &fakeAttester{res: okResult()}
	p := proof.New(s, f)

	for _, id := range []string{"", "  ", "\t\n"} {
		_, err := p.Generate(context.Background(), proof.Request{SocialID: id})
		require.ErrorIs(t, err, proof.ErrInvalidInput)
	}
	require.Zero(t, f.count())
	require.Equal(t, proof.ErrInvalidInput.Error(), p.State().Error)
}

func TestGenerateSuccess(t *testing.T) {
	s, w := connectedSession(t)
	f := &fakeAttester{res: okResult()}
	p := proof.New(s, f, proof.WithClock(clock))

	art, err := p.Generate(context.Background(), proof.Request{SocialID: "  alice "})
	require.NoError(t, err)
	require.Same(t, art, p.Artifact())
	require.NoError(t, p.Err())
	require.False(t, p.InFlight())

	require.True(t, strings.HasPrefix(art.ID, "proof-"))
	require.Equal(t, "alice", art.SocialID)
	require.Equal(t, wallet.NormalizeAddress(w.Accounts()[0]), art.Account)
	require.Equal(t, fixed, art.CreatedAt)
	require.Equal(t, okResult().PublicInputs, art.PublicInputs)

	want, err := json.MarshalIndent(okResult().Proof, "", "  ")
	require.NoError(t, err)
	require.Equal(t, string(want), art.Proof)

	require.Equal(t, 1, f.count())
	require.Equal(t, "alice", f.calls[0].SocialID)
	require.Equal(t, w.Accounts()[0], f.calls[0].Signer.Address())
}

func TestGenerateReplacesArtifact(t *testing.T) {
	s, _ := connectedSession(t)
	f := &fakeAttester{res: okResult()}
	p := proof.New(s, f)

	first, err := p.Generate(context.Background(), proof.Request{SocialID: "alice"})
	require.NoError(t, err)
	second, err := p.Generate(context.Background(), proof.Request{SocialID: "bob"})
	require.NoError(t, err)

	require.NotEqual(t, first.ID, second.ID)
	require.Same(t, second, p.Artifact())
}

func TestGenerateFailureKeepsArtifact(t *testing.T) {
	s, _ := connectedSession(t)
	f := &fakeAttester{res: okResult()}
	p := proof.New(s, f)

	prior, err := p.Generate(context.Background(), proof.Request{SocialID: "alice"})
	require.NoError(t, err)

	cause := errors.New("schema not found")
	f.set(nil, cause)
	_, err = p.Generate(context.Background(), proof.Request{SocialID: "alice"})
	require.ErrorIs(t, err, proof.ErrProofGenerationFailed)
	require.ErrorIs(t, err, cause)
	var gerr *proof.GenerationError
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, cause, gerr.Cause)

	require.Same(t, prior, p.Artifact())
	require.ErrorIs(t, p.Err(), cause)
	require.False(t, p.InFlight())

	f.set(okResult(), nil)
	_, err = p.Generate(context.Background(), proof.Request{SocialID: "alice"})
	require.NoError(t, err)
	require.NoError(t, p.Err())
}

func TestGenerateMalformedResult(t *testing.T) {
	s, _ := connectedSession(t)
	f := &fakeAttester{}
	p := proof.New(s, f)

	for _, res := range []*attest.Result{
		nil,
		{PublicInputs: map[string]any{}},
		{Proof: "p"},
		{Proof: make(chan int), PublicInputs: map[string]any{}},
	} {
		f.set(res, nil)
		_, err := p.Generate(context.Background(), proof.Request{SocialID: "alice"})
		require.ErrorIs(t, err, proof.ErrProofGenerationFailed)
		require.ErrorIs(t, err, attest.ErrMalformedResult)
		require.Nil(t, p.Artifact())
	}
}

func TestGenerateSingleFlight(t *testing.T) {
	s, _ := connectedSession(t)
	f := &fakeAttester{res: okResult()}
	release := f.block()
	p := proof.New(s, f)

	var g errgroup.Group
	g.Go(func() error {
		_, err := p.Generate(context.Background(), proof.Request{SocialID: "alice"})
		return err
	})
	require.Eventually(t, func() bool { return f.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.True(t, p.InFlight())

	_, err := p.Generate(context.Background(), proof.Request{SocialID: "alice"})
	require.ErrorIs(t, err, proof.ErrAlreadyInFlight)
	require.NoError(t, p.Err(), "duplicate trigger must not surface as state")

	release()
	require.NoError(t, g.Wait())
	require.Equal(t, 1, f.count())
	require.NotNil(t, p.Artifact())
	require.False(t, p.InFlight())
}

func TestGenerateDiscardsStaleResult(t *testing.T) {
	s, _ := connectedSession(t)
	f := &fakeAttester{res: okResult()}
	release := f.block()
	p := proof.New(s, f)

	done := make(chan error, 1)
	go func() {
		_, err := p.Generate(context.Background(), proof.Request{SocialID: "alice"})
		done <- err
	}()
	require.Eventually(t, func() bool { return f.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	s.Disconnect()
	release()
	require.ErrorIs(t, <-done, proof.ErrSessionChanged)
	require.Nil(t, p.Artifact())
	require.False(t, p.InFlight())
}

func TestGenerateDiscardsResultAfterAccountSwitch(t *testing.T) {
	s, w := connectedSession(t)
	f := &fakeAttester{res: okResult()}
	release := f.block()
	p := proof.New(s, f)
	gen := s.State().Generation

	done := make(chan error, 1)
	go func() {
		_, err := p.Generate(context.Background(), proof.Request{SocialID: "alice"})
		done <- err
	}()
	require.Eventually(t, func() bool { return f.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	w.SwitchAccounts(w.Accounts()[1])
	require.Eventually(t, func() bool { return s.State().Generation == gen+1 }, 2*time.Second, 5*time.Millisecond)
	release()
	require.ErrorIs(t, <-done, proof.ErrSessionChanged)
}

func TestGenerateCanceled(t *testing.T) {
	s, _ := connectedSession(t)
	f := &fakeAttester{res: okResult()}
	f.block()
	p := proof.New(s, f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Generate(ctx, proof.Request{SocialID: "alice"})
		done <- err
	}()
	require.Eventually(t, func() bool { return f.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	err := <-done
	require.ErrorIs(t, err, proof.ErrProofGenerationFailed)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, p.InFlight())
}

func TestReset(t *testing.T) {
	s, _ := connectedSession(t)
	f := &fakeAttester{res: okResult()}
	p := proof.New(s, f)

	_, err := p.Generate(context.Background(), proof.Request{SocialID: "alice"})
	require.NoError(t, err)
	f.set(nil, errors.New("boom"))
	_, err = p.Generate(context.Background(), proof.Request{SocialID: "alice"})
	require.Error(t, err)

	p.Reset()
	require.Nil(t, p.Artifact())
	require.NoError(t, p.Err())
	require.Equal(t, wallet.StatusConnected, s.Status())
}

type panicAttester struct{}

func (panicAttester) CreateProof(context.Context, attest.Request) (*attest.Result, error) {
	panic("attester blew up")
}

func TestGenerateClearsInFlightOnPanic(t *testing.T) {
	s, _ := connectedSession(t)
	p := proof.New(s, panicAttester{})

	require.Panics(t, func() {
		_, _ = p.Generate(context.Background(), proof.Request{SocialID: "alice"})
	})
	require.False(t, p.InFlight())

	require.Panics(t, func() {
		_, _ = p.Generate(context.Background(), proof.Request{SocialID: "alice"})
	}, "a second request must reach the provider again")
}
