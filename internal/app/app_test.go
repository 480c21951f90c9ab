package app

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourorg/socialzk/internal/config"
	"github.com/yourorg/socialzk/pkg/attest"
	"github.com/yourorg/socialzk/pkg/attest/local"
	"github.com/yourorg/socialzk/pkg/attest/remote"
	"github.com/yourorg/socialzk/pkg/flow"
	"github.com/yourorg/socialzk/pkg/proof"
	"github.com/yourorg/socialzk/pkg/wallet"
	"github.com/yourorg/socialzk/pkg/wallet/memwallet"
)

func testConfig(backend string) *config.Config {
	return &config.Config{
		Attest:    attest.Config{SchemaID: "schema-1", AppID: "app-1", BearerToken: "token"},
		Backend:   backend,
		AttestURL: "http://127.0.0.1:1",
		ChainPoll: config.DefaultChainPoll,
	}
}

type stubAttester struct{}

func (stubAttester) CreateProof(ctx context.Context, req attest.Request) (*attest.Result, error) {
	return &attest.Result{Proof: "proof", PublicInputs: map[string]any{"subject": req.SocialID}}, nil
}

func TestNewSelectsBackend(t *testing.T) {
	ctx := context.Background()

	a, err := New(ctx, testConfig(config.BackendLocal), Options{})
	require.NoError(t, err)
	require.IsType(t, &local.Prover{}, a.attester)
	require.Equal(t, flow.AwaitingWallet, a.Flow.State())
	require.ErrorIs(t, a.Session.Connect(ctx), wallet.ErrProviderUnavailable)
	a.Close()

	a, err = New(ctx, testConfig(config.BackendRemote), Options{})
	require.NoError(t, err)
	require.IsType(t, &remote.Client{}, a.attester)
	require.NoError(t, a.Prepare(ctx))
	a.Close()
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(context.Background(), nil, Options{})
	require.ErrorIs(t, err, config.ErrInvalid)

	cfg := testConfig(config.BackendLocal)
	cfg.Attest.BearerToken = ""
	_, err = New(context.Background(), cfg, Options{})
	require.ErrorIs(t, err, config.ErrMissing)

	cfg = testConfig(config.BackendLocal)
	cfg.KeystoreDir = t.TempDir()
	_, err = New(context.Background(), cfg, Options{})
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestStartReconcilesAuthorizedAccount(t *testing.T) {
	w, err := memwallet.Generate(1)
	require.NoError(t, err)
	w.Authorize(true)

	a, err := New(context.Background(), testConfig(config.BackendLocal), Options{Provider: w, Attester: stubAttester{}})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Start(context.Background()))
	require.Equal(t, wallet.StatusConnected, a.Session.Status())
	require.Zero(t, w.Requests())
	require.Equal(t, flow.AwaitingInput, a.Flow.State())
}

func TestChainChangeDropsProofAndReconnects(t *testing.T) {
	ctx := context.Background()
	w, err := memwallet.Generate(1)
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		statuses []wallet.Status
	)
	a, err := New(ctx, testConfig(config.BackendLocal), Options{
		Provider: w,
		Attester: stubAttester{},
		Notify: func(st wallet.State) {
			mu.Lock()
			statuses = append(statuses, st.Status)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Session.Connect(ctx))
	_, err = a.Pipeline.Generate(ctx, proof.Request{SocialID: "alice"})
	require.NoError(t, err)
	require.True(t, a.Flow.AdvanceAfterProof())
	require.Equal(t, flow.ProofReady, a.Flow.State())
	gen := a.Session.State().Generation

	require.Equal(t, 1, w.SwitchChain(big.NewInt(5)))
	require.Eventually(t, func() bool {
		st := a.Session.State()
		return st.Generation > gen && st.Status == wallet.StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	require.Nil(t, a.Pipeline.Artifact())
	require.Equal(t, flow.AwaitingInput, a.Flow.State())
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []wallet.Status{
		wallet.StatusConnected,
		wallet.StatusDisconnected,
		wallet.StatusConnected,
	}, statuses)
}

func TestAccountSwitchDropsProof(t *testing.T) {
	ctx := context.Background()
	w, err := memwallet.Generate(2)
	require.NoError(t, err)

	a, err := New(ctx, testConfig(config.BackendLocal), Options{Provider: w, Attester: stubAttester{}})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Session.Connect(ctx))
	art, err := a.Pipeline.Generate(ctx, proof.Request{SocialID: "alice"})
	require.NoError(t, err)
	require.Equal(t, wallet.NormalizeAddress(w.Accounts()[0]), art.Account)

	// Same first account: nothing changes.
	w.SwitchAccounts(w.Accounts()...)
	require.Same(t, art, a.Pipeline.Artifact())

	w.SwitchAccounts(w.Accounts()[1])
	require.Eventually(t, func() bool { return a.Pipeline.Artifact() == nil }, 2*time.Second, 5*time.Millisecond)
	addr, ok := a.Session.Address()
	require.True(t, ok)
	require.Equal(t, w.Accounts()[1], addr)
	require.Equal(t, flow.AwaitingInput, a.Flow.State())
}
