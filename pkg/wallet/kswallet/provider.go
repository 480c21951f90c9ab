// Package kswallet provides a wallet provider over a go-ethereum encrypted
// keystore directory. Unlocking an account with its passphrase plays the
// role of the user approving account access.
package kswallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/yourorg/socialzk/pkg/wallet"
)

var ErrNotAuthorized = errors.New("account not authorized")

// PromptFunc asks the user for the passphrase of account. Returning an error
// wrapping wallet.ErrUserRejected declines the request.
type PromptFunc func(ctx context.Context, account common.Address) (string, error)

type Provider struct {
	ks     *keystore.KeyStore
	prompt PromptFunc
	log    log.Logger

	mu       sync.Mutex
	approved []common.Address

	accountsFeed event.Feed
	chainFeed    event.Feed

	walletSub event.Subscription
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open opens the keystore at dir with standard scrypt parameters.
func Open(dir string, prompt PromptFunc) *Provider {
	return New(keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP), prompt)
}

func New(ks *keystore.KeyStore, prompt PromptFunc) *Provider {
	p := &Provider{
		ks:     ks,
		prompt: prompt,
		log:    log.New("module", "keystore"),
		quit:   make(chan struct{}),
	}
	events := make(chan accounts.WalletEvent, 16)
	p.walletSub = ks.Subscribe(events)
	p.wg.Add(1)
	go p.watchWallets(events)
	return p
}

// Close stops background watchers.
func (p *Provider) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
		p.walletSub.Unsubscribe()
	})
	p.wg.Wait()
}

func (p *Provider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	accs := p.ks.Accounts()
	if len(accs) == 0 {
		return nil, nil
	}
	acc := accs[0]
	if p.prompt == nil {
		return nil, fmt.Errorf("%w: no passphrase prompt configured", wallet.ErrUserRejected)
	}
	pass, err := p.prompt(ctx, acc.Address)
	if err != nil {
		return nil, err
	}
	if err := p.ks.Unlock(acc, pass); err != nil {
		return nil, fmt.Errorf("unlock %s: %w", acc.Address.Hex(), err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.approved = moveFront(p.approved, acc.Address)
	return append([]common.Address(nil), p.approved...), nil
}

func (p *Provider) AuthorizedAccounts(ctx context.Context) ([]common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]common.Address(nil), p.approved...), nil
}

func (p *Provider) DeriveSigner(ctx context.Context, account common.Address) (wallet.Signer, error) {
	p.mu.Lock()
	ok := contains(p.approved, account)
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAuthorized, account.Hex())
	}
	acc, err := p.ks.Find(accounts.Account{Address: account})
	if err != nil {
		return nil, err
	}
	return &signer{ks: p.ks, acc: acc}, nil
}

func (p *Provider) SubscribeAccountsChanged(ch chan<- wallet.Event) event.Subscription {
	return p.accountsFeed.Subscribe(ch)
}

func (p *Provider) SubscribeChainChanged(ch chan<- wallet.Event) event.Subscription {
	return p.chainFeed.Subscribe(ch)
}

// Select makes an approved account the active one.
func (p *Provider) Select(account common.Address) error {
	p.mu.Lock()
	if !contains(p.approved, account) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotAuthorized, account.Hex())
	}
	p.approved = moveFront(p.approved, account)
	accs := append([]common.Address(nil), p.approved...)
	p.mu.Unlock()

	p.pushAccounts(accs)
	return nil
}

// Lock revokes access to account and relocks its key.
func (p *Provider) Lock(account common.Address) error {
	if err := p.ks.Lock(account); err != nil {
		return err
	}
	p.revoke(account)
	return nil
}

// WatchChain polls the chain id of the node at rpcURL and pushes a
// notification whenever it changes.
func (p *Provider) WatchChain(ctx context.Context, rpcURL string, interval time.Duration) error {
	cli, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	last, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return fmt.Errorf("chain id: %w", err)
	}
	p.log.Info("Watching chain", "chain", last, "interval", interval)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cli.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.quit:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			id, err := cli.ChainID(ctx)
			if err != nil {
				p.log.Debug("Chain id poll failed", "err", err)
				continue
			}
			if id.Cmp(last) == 0 {
				continue
			}
			p.log.Info("Chain changed", "from", last, "to", id)
			last = id
			p.chainFeed.Send(wallet.Event{Kind: wallet.ChainChanged, ChainID: new(big.Int).Set(id)})
		}
	}()
	return nil
}

func (p *Provider) watchWallets(events <-chan accounts.WalletEvent) {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case err := <-p.walletSub.Err():
			if err != nil {
				p.log.Warn("Keystore subscription failed", "err", err)
			}
			return
		case ev := <-events:
			if ev.Kind != accounts.WalletDropped {
				continue
			}
			for _, acc := range ev.Wallet.Accounts() {
				p.revoke(acc.Address)
			}
		}
	}
}

func (p *Provider) revoke(account common.Address) {
	p.mu.Lock()
	if !contains(p.approved, account) {
		p.mu.Unlock()
		return
	}
	p.approved = remove(p.approved, account)
	accs := append([]common.Address(nil), p.approved...)
	p.mu.Unlock()

	p.log.Info("Account access revoked", "address", account.Hex())
	p.pushAccounts(accs)
}

func (p *Provider) pushAccounts(accs []common.Address) {
	p.accountsFeed.Send(wallet.Event{Kind: wallet.AccountsChanged, Accounts: accs})
}

type signer struct {
	ks  *keystore.KeyStore
	acc accounts.Account
}

func (s *signer) Address() common.Address { return s.acc.Address }

func (s *signer) SignText(ctx context.Context, text []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.ks.SignHash(s.acc, accounts.TextHash(text))
}

func contains(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func remove(list []common.Address, a common.Address) []common.Address {
	out := list[:0]
	for _, x := range list {
		if x != a {
			out = append(out, x)
		}
	}
	return out
}

func moveFront(list []common.Address, a common.Address) []common.Address {
	return append([]common.Address{a}, remove(list, a)...)
}
