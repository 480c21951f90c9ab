package wallet

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

var (
	ErrProviderUnavailable = errors.New("no wallet provider available")
	ErrUserRejected        = errors.New("user rejected the request")
	ErrProviderError       = errors.New("wallet provider error")
	ErrNoAccounts          = errors.New("wallet returned no accounts")
	ErrAlreadyConnecting   = errors.New("wallet connection already in progress")
	ErrConnectAborted      = errors.New("wallet connection aborted")
	ErrNotConnected        = errors.New("wallet not connected")
	ErrChainChanged        = errors.New("wallet chain changed")
	ErrClosed              = errors.New("wallet session closed")
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Signer authorizes actions on behalf of one account.
type Signer interface {
	Address() common.Address
	// SignText produces an EIP-191 personal signature over text.
	SignText(ctx context.Context, text []byte) ([]byte, error)
}

type EventKind int

const (
	AccountsChanged EventKind = iota
	ChainChanged
)

// Event is a provider-pushed notification. Accounts is set for
// AccountsChanged, ChainID for ChainChanged.
type Event struct {
	Kind     EventKind
	Accounts []common.Address
	ChainID  *big.Int
}

// Provider is the wallet capability a Session is built on.
type Provider interface {
	// RequestAccounts asks the user for account access and may block on
	// their approval.
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	// AuthorizedAccounts lists accounts already approved, without prompting.
	AuthorizedAccounts(ctx context.Context) ([]common.Address, error)
	DeriveSigner(ctx context.Context, account common.Address) (Signer, error)

	SubscribeAccountsChanged(ch chan<- Event) event.Subscription
	SubscribeChainChanged(ch chan<- Event) event.Subscription
}

// State is a point-in-time view of a Session.
type State struct {
	Status     Status
	Address    string // lowercase hex, empty unless connected
	LastError  string
	Generation uint64
}

// Lease lends the session signer for a single operation. Generation
// identifies the session incarnation the signer belongs to.
type Lease struct {
	Signer     Signer
	Generation uint64
}

// ReloadFunc is invoked after a chain change has reset the session.
type ReloadFunc func(ctx context.Context, chainID *big.Int)

// NormalizeAddress returns the lowercase 0x-prefixed form of addr.
func NormalizeAddress(addr common.Address) string {
	return "0x" + common.Bytes2Hex(addr.Bytes())
}
