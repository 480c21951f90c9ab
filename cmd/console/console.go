package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/socialzk/internal/app"
	"github.com/yourorg/socialzk/pkg/flow"
	"github.com/yourorg/socialzk/pkg/proof"
	"github.com/yourorg/socialzk/pkg/wallet"
	"github.com/yourorg/socialzk/pkg/wallet/memwallet"
)

type console struct {
	app *app.App
	dev *memwallet.Wallet

	mu  sync.Mutex // serialises output
	out io.Writer

	jobs errgroup.Group
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) printf(col *color.Color, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	col.Fprintf(c.out, format+"\n", args...)
}

func (c *console) info(format string, args ...any) { c.printf(color.New(color.FgWhite), format, args...) }
func (c *console) ok(format string, args ...any)   { c.printf(color.New(color.FgGreen), format, args...) }
func (c *console) warn(format string, args ...any) { c.printf(color.New(color.FgYellow), format, args...) }
func (c *console) fail(format string, args ...any) { c.printf(color.New(color.FgRed), format, args...) }

// walletChanged is the session observer. It runs on whichever goroutine made
// the transition.
func (c *console) walletChanged(st wallet.State) {
	msg := "wallet " + st.Status.String()
	if st.Address != "" {
		msg += " " + st.Address
	}
	if st.LastError != "" {
		msg += ": " + st.LastError
	}
	c.printf(statusColor(st.Status), "%s", msg)
}

// exec runs one command line and reports whether the console should exit.
func (c *console) exec(ctx context.Context, line string) bool {
	verb, rest := splitCommand(line)
	switch verb {
	case "":
	case "exit", "quit":
		return true
	case "help":
		c.info("%s", usage)
	case "connect":
		c.connect(ctx)
	case "disconnect":
		c.app.Session.Disconnect()
	case "generate":
		c.generate(ctx, rest)
	case "show":
		c.show()
	case "advance":
		if c.app.Flow.AdvanceAfterProof() {
			c.ok("proof acknowledged")
		} else {
			c.warn("no proof to acknowledge")
		}
	case "reset":
		c.app.Flow.Reset()
		c.showState()
	case "state":
		c.showState()
	case "switch":
		c.switchAccounts(rest)
	case "chain":
		c.switchChain(rest)
	default:
		c.warn("unknown command %q", verb)
		c.info("%s", usage)
	}
	return false
}

func (c *console) connect(ctx context.Context) {
	err := c.app.Session.Connect(ctx)
	switch {
	case err == nil:
	case errors.Is(err, wallet.ErrAlreadyConnecting):
		c.warn("connection already pending")
	case errors.Is(err, wallet.ErrUserRejected):
		c.warn("connection declined, try again with 'connect'")
	case errors.Is(err, wallet.ErrProviderUnavailable):
		c.fail("no wallet provider: set KEYSTORE_DIR or start with --dev")
	default:
		c.fail("connect: %v", err)
	}
}

func (c *console) generate(ctx context.Context, socialID string) {
	c.jobs.Go(func() error {
		art, err := c.app.Pipeline.Generate(ctx, proof.Request{SocialID: socialID})
		switch {
		case err == nil:
			c.ok("proof %s ready for %s", art.ID, art.SocialID)
		case errors.Is(err, proof.ErrAlreadyInFlight):
			c.warn("a proof is already being generated")
		case errors.Is(err, proof.ErrNotConnected):
			c.fail("connect a wallet first")
		case errors.Is(err, proof.ErrInvalidInput):
			c.fail("usage: generate <social id>")
		case errors.Is(err, proof.ErrSessionChanged):
			c.warn("wallet changed while proving, result discarded")
		default:
			c.fail("%v", err)
		}
		return nil
	})
}

func (c *console) show() {
	art := c.app.Pipeline.Artifact()
	if art == nil {
		c.warn("no proof")
		return
	}
	c.ok("%s", art.ID)
	c.info("social id: %s", art.SocialID)
	c.info("account:   %s", art.Account)
	c.info("created:   %s", art.CreatedAt.Format("2006-01-02 15:04:05"))
	c.info("public inputs:")
	for _, in := range art.FormatPublicInputs() {
		c.info("  %s: %s", in.Key, in.Value)
	}
	c.info("proof:\n%s", art.Proof)
}

func (c *console) showState() {
	st := c.app.Session.State()
	line := "wallet: " + st.Status.String()
	if st.Address != "" {
		line += " " + st.Address
	}
	c.printf(statusColor(st.Status), "%s", line)

	var steps []string
	for _, s := range c.app.Flow.Steps() {
		mark := " "
		switch s.Progress {
		case flow.Active:
			mark = ">"
		case flow.Done:
			mark = "x"
		}
		steps = append(steps, fmt.Sprintf("[%s] %s", mark, s.Name))
	}
	c.info("flow: %s  %s", c.app.Flow.State(), strings.Join(steps, " "))
	if c.app.Pipeline.InFlight() {
		c.warn("proof generation in flight")
	}
	if n := c.app.Flow.Notice(); n != "" {
		c.fail("%s", n)
	}
}

func (c *console) switchAccounts(args string) {
	if c.dev == nil {
		c.warn("account switching needs --dev")
		return
	}
	all := c.dev.Accounts()
	var accs []common.Address
	for _, f := range strings.Fields(args) {
		i, err := strconv.Atoi(f)
		if err != nil || i < 0 || i >= len(all) {
			c.fail("account index %q out of range 0-%d", f, len(all)-1)
			return
		}
		accs = append(accs, all[i])
	}
	c.dev.SwitchAccounts(accs...)
}

func (c *console) switchChain(arg string) {
	if c.dev == nil {
		c.warn("chain switching needs --dev")
		return
	}
	id, ok := new(big.Int).SetString(strings.TrimSpace(arg), 10)
	if !ok {
		c.fail("usage: chain <id>")
		return
	}
	c.dev.SwitchChain(id)
}

// wait blocks until background proof jobs finish.
func (c *console) wait() error {
	return c.jobs.Wait()
}
