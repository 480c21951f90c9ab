// Package memwallet is an in-memory wallet provider. It backs tests and the
// console's dev mode, where keys are generated on the fly.
package memwallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"

	"github.com/yourorg/socialzk/pkg/wallet"
)

var ErrUnknownAccount = errors.New("unknown account")

// Signer signs with a raw private key.
type Signer struct {
	key *ecdsa.PrivateKey
}

func NewSigner(key *ecdsa.PrivateKey) *Signer { return &Signer{key: key} }

func (s *Signer) Address() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }

func (s *Signer) SignText(ctx context.Context, text []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return crypto.Sign(accounts.TextHash(text), s.key)
}

type Wallet struct {
	mu         sync.Mutex
	keys       map[common.Address]*ecdsa.PrivateKey
	order      []common.Address
	authorized bool
	rejectNext error
	failDerive map[common.Address]error
	hold       chan struct{}
	requests   int
	chainID    *big.Int

	accountsFeed event.Feed
	chainFeed    event.Feed
}

func New(keys ...*ecdsa.PrivateKey) *Wallet {
	w := &Wallet{
		keys:       make(map[common.Address]*ecdsa.PrivateKey),
		failDerive: make(map[common.Address]error),
		chainID:    big.NewInt(1),
	}
	for _, k := range keys {
		w.AddKey(k)
	}
	return w
}

// Generate returns a wallet holding n fresh keys.
func Generate(n int) (*Wallet, error) {
	w := New()
	for i := 0; i < n; i++ {
		k, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		w.AddKey(k)
	}
	return w, nil
}

func (w *Wallet) AddKey(k *ecdsa.PrivateKey) common.Address {
	addr := crypto.PubkeyToAddress(k.PublicKey)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.keys[addr]; !ok {
		w.order = append(w.order, addr)
	}
	w.keys[addr] = k
	return addr
}

func (w *Wallet) Accounts() []common.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]common.Address(nil), w.order...)
}

// Authorize marks the accounts as already approved, as if a previous
// session had been granted access.
func (w *Wallet) Authorize(ok bool) {
	w.mu.Lock()
	w.authorized = ok
	w.mu.Unlock()
}

// RejectNext makes the next RequestAccounts fail with err.
func (w *Wallet) RejectNext(err error) {
	w.mu.Lock()
	w.rejectNext = err
	w.mu.Unlock()
}

// FailDerive makes DeriveSigner for addr fail with err. A nil err clears it.
func (w *Wallet) FailDerive(addr common.Address, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		delete(w.failDerive, addr)
		return
	}
	w.failDerive[addr] = err
}

// Hold blocks RequestAccounts until the returned release func is called,
// standing in for a user who has not yet answered the approval prompt.
func (w *Wallet) Hold() (release func()) {
	ch := make(chan struct{})
	w.mu.Lock()
	w.hold = ch
	w.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			if w.hold == ch {
				w.hold = nil
			}
			w.mu.Unlock()
			close(ch)
		})
	}
}

// Requests counts RequestAccounts calls.
func (w *Wallet) Requests() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requests
}

func (w *Wallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	w.mu.Lock()
	w.requests++
	hold := w.hold
	w.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rejectNext; err != nil {
		w.rejectNext = nil
		return nil, err
	}
	w.authorized = true
	return append([]common.Address(nil), w.order...), nil
}

func (w *Wallet) AuthorizedAccounts(ctx context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.authorized {
		return nil, nil
	}
	return append([]common.Address(nil), w.order...), nil
}

func (w *Wallet) DeriveSigner(ctx context.Context, account common.Address) (wallet.Signer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.failDerive[account]; err != nil {
		return nil, err
	}
	k, ok := w.keys[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account.Hex())
	}
	return NewSigner(k), nil
}

func (w *Wallet) SubscribeAccountsChanged(ch chan<- wallet.Event) event.Subscription {
	return w.accountsFeed.Subscribe(ch)
}

func (w *Wallet) SubscribeChainChanged(ch chan<- wallet.Event) event.Subscription {
	return w.chainFeed.Subscribe(ch)
}

// SwitchAccounts pushes an account list notification. It returns the number
// of subscribers reached.
func (w *Wallet) SwitchAccounts(accs ...common.Address) int {
	return w.accountsFeed.Send(wallet.Event{
		Kind:     wallet.AccountsChanged,
		Accounts: append([]common.Address(nil), accs...),
	})
}

// SwitchChain pushes a chain change notification.
func (w *Wallet) SwitchChain(id *big.Int) int {
	w.mu.Lock()
	w.chainID = new(big.Int).Set(id)
	w.mu.Unlock()
	return w.chainFeed.Send(wallet.Event{Kind: wallet.ChainChanged, ChainID: new(big.Int).Set(id)})
}

func (w *Wallet) ChainID() *big.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return new(big.Int).Set(w.chainID)
}
