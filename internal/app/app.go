// Package app wires the wallet session, the proof pipeline and the flow
// machine from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/log"

	"github.com/yourorg/socialzk/internal/config"
	"github.com/yourorg/socialzk/pkg/attest"
	"github.com/yourorg/socialzk/pkg/attest/local"
	"github.com/yourorg/socialzk/pkg/attest/remote"
	"github.com/yourorg/socialzk/pkg/flow"
	"github.com/yourorg/socialzk/pkg/proof"
	"github.com/yourorg/socialzk/pkg/wallet"
	"github.com/yourorg/socialzk/pkg/wallet/kswallet"
)

type Options struct {
	// Provider replaces the keystore provider built from the config.
	Provider wallet.Provider
	// Attester replaces the backend selected by the config.
	Attester attest.Provider
	// Prompt asks for keystore passphrases.
	Prompt kswallet.PromptFunc
	// Notify observes wallet state transitions.
	Notify func(wallet.State)
	Logger log.Logger
}

type App struct {
	Config   *config.Config
	Session  *wallet.Session
	Pipeline *proof.Pipeline
	Flow     *flow.Machine

	attester attest.Provider
	notify   func(wallet.State)
	log      log.Logger
	closers  []func()
}

// New builds the application. Nothing talks to the wallet until Start or an
// explicit connect.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", config.ErrInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, log: opts.Logger}
	if a.log == nil {
		a.log = log.New("module", "app")
	}

	provider, err := a.newProvider(ctx, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	attester, err := a.newAttester(ctx, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.attester = attester

	a.notify = opts.Notify
	a.Session = wallet.New(provider, wallet.WithReload(a.reload), wallet.WithNotify(a.walletChanged))
	a.Pipeline = proof.New(a.Session, attester)
	a.Flow = flow.New(a.Session, a.Pipeline)
	return a, nil
}

func (a *App) newProvider(ctx context.Context, opts Options) (wallet.Provider, error) {
	if opts.Provider != nil {
		return opts.Provider, nil
	}
	if a.Config.KeystoreDir == "" {
		a.log.Warn("No keystore configured, wallet provider unavailable")
		return nil, nil
	}
	if opts.Prompt == nil {
		return nil, fmt.Errorf("%w: keystore provider needs a passphrase prompt", config.ErrInvalid)
	}
	ks := kswallet.Open(a.Config.KeystoreDir, opts.Prompt)
	a.closers = append(a.closers, ks.Close)
	if a.Config.RPCURL != "" {
		if err := ks.WatchChain(ctx, a.Config.RPCURL, a.Config.ChainPoll); err != nil {
			return nil, fmt.Errorf("chain watcher: %w", err)
		}
	}
	return ks, nil
}

func (a *App) newAttester(ctx context.Context, opts Options) (attest.Provider, error) {
	if opts.Attester != nil {
		return opts.Attester, nil
	}
	switch a.Config.Backend {
	case config.BackendRemote:
		c, err := remote.Dial(ctx, a.Config.AttestURL, a.Config.Attest)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	default:
		return local.New(a.Config.Attest, local.WithKeysDir(a.Config.KeysDir))
	}
}

// reload runs after a chain change has already reset the session. It drops
// any proof made on the old chain and reconnects authorized accounts.
func (a *App) reload(ctx context.Context, chainID *big.Int) {
	a.log.Info("Reloading after chain change", "chain", chainID)
	a.Flow.Reset()
	if err := a.Session.Reconcile(ctx); err != nil {
		a.log.Warn("Reconnect after chain change failed", "err", err)
	}
}

// walletChanged drops a proof made for another account once the session
// moves to a different address.
func (a *App) walletChanged(st wallet.State) {
	if st.Status == wallet.StatusConnected && a.Pipeline != nil {
		if art := a.Pipeline.Artifact(); art != nil && art.Account != st.Address {
			a.log.Info("Dropping proof for previous account", "id", art.ID, "account", art.Account)
			a.Flow.Reset()
		}
	}
	if a.notify != nil {
		a.notify(st)
	}
}

// Start restores a previously authorized wallet connection without
// prompting.
func (a *App) Start(ctx context.Context) error {
	return a.Session.Reconcile(ctx)
}

// Prepare runs any one-off backend setup ahead of the first proof request.
func (a *App) Prepare(ctx context.Context) error {
	s, ok := a.attester.(interface{ Setup() error })
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	a.log.Info("Preparing attestation backend", "backend", a.Config.Backend)
	return s.Setup()
}

// Close tears down the session and every backend New opened.
func (a *App) Close() {
	if a.Session != nil {
		a.Session.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
