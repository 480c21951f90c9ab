// Package flow derives the three stage progression connect → input → proof
// from the wallet session and the proof pipeline. Nothing here is stored
// except which artifact the caller has acknowledged.
package flow

import (
	"sync"

	"github.com/yourorg/socialzk/pkg/proof"
	"github.com/yourorg/socialzk/pkg/wallet"
)

type State int

const (
	AwaitingWallet State = iota
	AwaitingInput
	ProofReady
)

func (s State) String() string {
	switch s {
	case AwaitingWallet:
		return "awaiting-wallet"
	case AwaitingInput:
		return "awaiting-input"
	case ProofReady:
		return "proof-ready"
	}
	return "unknown"
}

// Progress of a single step as shown by a progress indicator.
type Progress int

const (
	Pending Progress = iota
	Active
	Done
)

func (p Progress) String() string {
	switch p {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Done:
		return "done"
	}
	return "unknown"
}

type Step struct {
	Name     string
	Progress Progress
}

// Wallet is the session view the machine reads.
type Wallet interface {
	State() wallet.State
}

// Pipeline is the proof pipeline view the machine reads and resets.
type Pipeline interface {
	State() proof.State
	Reset()
}

type Machine struct {
	wallet   Wallet
	pipeline Pipeline

	mu    sync.Mutex
	ackID string
}

func New(w Wallet, p Pipeline) *Machine {
	return &Machine{wallet: w, pipeline: p}
}

// State is recomputed from its sources on every call.
func (m *Machine) State() State {
	return derive(m.wallet.State(), m.pipeline.State())
}

func derive(ws wallet.State, ps proof.State) State {
	switch {
	case ws.Status != wallet.StatusConnected:
		return AwaitingWallet
	case ps.Artifact == nil:
		return AwaitingInput
	default:
		return ProofReady
	}
}

// AdvanceAfterProof marks the current artifact as seen. It reports false and
// does nothing when there is no artifact.
func (m *Machine) AdvanceAfterProof() bool {
	ps := m.pipeline.State()
	if ps.Artifact == nil {
		return false
	}
	m.mu.Lock()
	m.ackID = ps.Artifact.ID
	m.mu.Unlock()
	return true
}

// Acknowledged reports whether the artifact currently held was marked seen.
func (m *Machine) Acknowledged() bool {
	ps := m.pipeline.State()
	if ps.Artifact == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ackID == ps.Artifact.ID
}

// Reset discards the artifact and its error. The wallet session is untouched.
func (m *Machine) Reset() {
	m.pipeline.Reset()
	m.mu.Lock()
	m.ackID = ""
	m.mu.Unlock()
}

// Steps returns connect, input and proof progress in order.
func (m *Machine) Steps() []Step {
	st := m.State()
	steps := []Step{
		{Name: "connect", Progress: Active},
		{Name: "input", Progress: Pending},
		{Name: "proof", Progress: Pending},
	}
	switch st {
	case AwaitingInput:
		steps[0].Progress = Done
		steps[1].Progress = Active
	case ProofReady:
		steps[0].Progress = Done
		steps[1].Progress = Done
		steps[2].Progress = Active
		if m.Acknowledged() {
			steps[2].Progress = Done
		}
	}
	return steps
}

// Notice is the error to show next to the action that can resolve it: the
// wallet error while awaiting a wallet, the pipeline error otherwise.
func (m *Machine) Notice() string {
	ws := m.wallet.State()
	if ws.Status != wallet.StatusConnected {
		return ws.LastError
	}
	return m.pipeline.State().Error
}
