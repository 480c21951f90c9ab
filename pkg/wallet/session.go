package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

// eventBuffer bounds how many provider notifications may queue up while a
// handler is still running.
const eventBuffer = 16

var errAlreadyConnected = errors.New("already connected")

type Option func(*Session)

func WithLogger(l log.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithReload replaces the chain-change recovery step. The session is already
// reset when fn runs.
func WithReload(fn ReloadFunc) Option {
	return func(s *Session) { s.reload = fn }
}

// WithNotify registers an observer called after every state transition.
func WithNotify(fn func(State)) Option {
	return func(s *Session) { s.notify = fn }
}

type subscription struct {
	accounts event.Subscription
	chain    event.Subscription
	quit     chan struct{}
}

func (sub *subscription) release() {
	close(sub.quit)
	sub.accounts.Unsubscribe()
	sub.chain.Unsubscribe()
}

// Session owns the connection to a wallet provider: the connected account,
// its signer and the provider notification subscriptions.
//
// Provider notifications are handled one at a time on a single goroutine, in
// arrival order. Every transition that invalidates the signer bumps the
// generation counter so that work started against an older signer can be
// recognised as stale.
type Session struct {
	provider Provider
	log      log.Logger
	reload   ReloadFunc
	notify   func(State)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	status  Status
	address common.Address
	signer  Signer
	lastErr error
	gen     uint64
	subs    *subscription
	closed  bool
}

// New creates a disconnected session. A nil provider is allowed; Connect then
// fails with ErrProviderUnavailable.
func New(provider Provider, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		provider: provider,
		log:      log.New("module", "wallet"),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reload == nil {
		s.reload = func(ctx context.Context, _ *big.Int) {
			if err := s.Reconcile(ctx); err != nil {
				s.log.Warn("Wallet reconciliation after chain change failed", "err", err)
			}
		}
	}
	return s
}

// Connect requests account access from the provider and, on approval, binds
// the session to the first account. Failures are recorded as the session's
// last error and returned.
func (s *Session) Connect(ctx context.Context) error {
	if s.provider == nil {
		s.mu.Lock()
		s.resetLocked()
		s.status = StatusError
		s.lastErr = ErrProviderUnavailable
		st := s.stateLocked()
		s.mu.Unlock()
		s.emit(st)
		return ErrProviderUnavailable
	}
	gen, err := s.begin()
	if errors.Is(err, errAlreadyConnected) {
		return nil
	}
	if err != nil {
		return err
	}
	s.log.Debug("Requesting wallet accounts")
	accounts, err := s.provider.RequestAccounts(ctx)
	return s.establish(ctx, gen, accounts, err)
}

// Reconcile restores a connection to an already authorized account without
// prompting. It does nothing when the provider reports no such account.
func (s *Session) Reconcile(ctx context.Context) error {
	if s.provider == nil {
		return nil
	}
	accounts, err := s.provider.AuthorizedAccounts(ctx)
	if err != nil {
		s.log.Warn("Failed to query authorized accounts", "err", err)
		return classify(err)
	}
	if len(accounts) == 0 {
		s.log.Debug("No authorized wallet accounts")
		return nil
	}
	gen, err := s.begin()
	if errors.Is(err, errAlreadyConnected) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.establish(ctx, gen, accounts, nil)
}

// Disconnect drops the account, the signer, the last error and the provider
// subscriptions. It is idempotent. A pending Connect is aborted.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.status == StatusDisconnected && s.subs == nil && s.lastErr == nil {
		s.mu.Unlock()
		return
	}
	s.resetLocked()
	st := s.stateLocked()
	s.mu.Unlock()

	s.log.Info("Wallet disconnected")
	s.emit(st)
}

// Close releases the session at process teardown and waits for the
// notification handler to exit. Later connection attempts fail with ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.resetLocked()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Address returns the connected account, if any.
func (s *Session) Address() (common.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address, s.status == StatusConnected
}

// Lend hands out the current signer for one operation. The caller must not
// keep it after that operation completes.
func (s *Session) Lend() (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusConnected || s.signer == nil {
		return Lease{}, ErrNotConnected
	}
	return Lease{Signer: s.signer, Generation: s.gen}, nil
}

// Valid reports whether a lease of generation gen still refers to the live
// connection.
func (s *Session) Valid(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusConnected && s.gen == gen
}

func (s *Session) begin() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return 0, ErrClosed
	case s.status == StatusConnecting:
		return 0, ErrAlreadyConnecting
	case s.status == StatusConnected:
		return 0, errAlreadyConnected
	}
	s.status = StatusConnecting
	s.lastErr = nil
	s.gen++
	return s.gen, nil
}

func (s *Session) establish(ctx context.Context, gen uint64, accounts []common.Address, err error) error {
	if err == nil && len(accounts) == 0 {
		err = ErrNoAccounts
	}
	var signer Signer
	if err == nil {
		signer, err = s.provider.DeriveSigner(ctx, accounts[0])
	}
	if err != nil {
		err = classify(err)
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return ErrConnectAborted
		}
		s.status = StatusError
		s.lastErr = err
		s.address = common.Address{}
		s.signer = nil
		st := s.stateLocked()
		s.mu.Unlock()

		s.log.Warn("Wallet connection failed", "err", err)
		s.emit(st)
		return err
	}

	ch := make(chan Event, eventBuffer)
	sub := &subscription{
		accounts: s.provider.SubscribeAccountsChanged(ch),
		chain:    s.provider.SubscribeChainChanged(ch),
		quit:     make(chan struct{}),
	}

	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		sub.release()
		return ErrConnectAborted
	}
	s.status = StatusConnected
	s.address = accounts[0]
	s.signer = signer
	s.subs = sub
	st := s.stateLocked()
	s.wg.Add(1)
	go s.loop(sub, ch)
	s.mu.Unlock()

	s.log.Info("Wallet connected", "address", st.Address)
	s.emit(st)
	return nil
}

func (s *Session) loop(sub *subscription, ch <-chan Event) {
	defer s.wg.Done()
	for {
		select {
		case <-sub.quit:
			return
		case err := <-sub.accounts.Err():
			if err != nil {
				s.log.Warn("Account subscription failed", "err", err)
			}
			return
		case err := <-sub.chain.Err():
			if err != nil {
				s.log.Warn("Chain subscription failed", "err", err)
			}
			return
		case ev := <-ch:
			select {
			case <-sub.quit:
				return
			default:
			}
			s.handle(sub, ev)
		}
	}
}

func (s *Session) handle(sub *subscription, ev Event) {
	s.mu.Lock()
	if s.subs != sub {
		s.mu.Unlock()
		return
	}
	gen, current := s.gen, s.address
	s.mu.Unlock()

	switch ev.Kind {
	case AccountsChanged:
		s.accountsChanged(gen, current, ev.Accounts)
	case ChainChanged:
		s.chainChanged(gen, ev.ChainID)
	default:
		s.log.Debug("Ignoring unknown wallet event", "kind", ev.Kind)
	}
}

func (s *Session) accountsChanged(gen uint64, current common.Address, accounts []common.Address) {
	if len(accounts) == 0 {
		s.log.Info("Wallet reported no accounts")
		s.resetIf(gen, nil)
		return
	}
	next := accounts[0]
	if next == current {
		return
	}
	signer, err := s.provider.DeriveSigner(s.ctx, next)
	if err != nil {
		s.log.Warn("Failed to derive signer for switched account", "address", NormalizeAddress(next), "err", err)
		s.resetIf(gen, nil)
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.address = next
	s.signer = signer
	s.gen++
	st := s.stateLocked()
	s.mu.Unlock()

	s.log.Info("Wallet account switched", "address", st.Address)
	s.emit(st)
}

func (s *Session) chainChanged(gen uint64, chainID *big.Int) {
	s.log.Warn("Wallet chain changed, resetting session", "chain", chainID)
	if !s.resetIf(gen, ErrChainChanged) {
		return
	}
	s.reload(s.ctx, chainID)
}

// resetIf disconnects when the session is still at generation gen. A non-nil
// cause is kept as the last error.
func (s *Session) resetIf(gen uint64, cause error) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	s.resetLocked()
	s.lastErr = cause
	st := s.stateLocked()
	s.mu.Unlock()

	s.log.Info("Wallet disconnected")
	s.emit(st)
	return true
}

func (s *Session) resetLocked() {
	if s.subs != nil {
		s.subs.release()
		s.subs = nil
	}
	s.status = StatusDisconnected
	s.address = common.Address{}
	s.signer = nil
	s.lastErr = nil
	s.gen++
}

func (s *Session) stateLocked() State {
	st := State{Status: s.status, Generation: s.gen}
	if s.status == StatusConnected {
		st.Address = NormalizeAddress(s.address)
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Session) emit(st State) {
	if s.notify != nil {
		s.notify(st)
	}
}

func classify(err error) error {
	if errors.Is(err, ErrUserRejected) || errors.Is(err, ErrProviderError) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProviderError, err)
}
