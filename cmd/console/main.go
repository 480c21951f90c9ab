package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yourorg/socialzk/internal/app"
	"github.com/yourorg/socialzk/internal/config"
	"github.com/yourorg/socialzk/internal/term"
	"github.com/yourorg/socialzk/pkg/wallet"
	"github.com/yourorg/socialzk/pkg/wallet/memwallet"
)

func main() {
	var (
		cfgPath   string
		keystore  string
		rpcURL    string
		history   string
		verbosity int
		dev       bool
	)

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive wallet session and proof console",
		RunE: func(cmd *cobra.Command, _ []string) error {
			term.SetupLogging(verbosity)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if keystore != "" {
				cfg.KeystoreDir = keystore
			}
			if rpcURL != "" {
				cfg.RPCURL = rpcURL
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:      "socialzk> ",
				HistoryFile: history,
			})
			if err != nil {
				return err
			}
			defer rl.Close()

			c := newConsole(rl.Stdout())
			opts := app.Options{
				Prompt: term.PassphrasePrompt(rl),
				Notify: c.walletChanged,
			}
			if dev {
				w, err := memwallet.Generate(3)
				if err != nil {
					return err
				}
				opts.Provider = w
				c.dev = w
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			c.app = a

			if err := a.Start(ctx); err != nil {
				c.fail("startup reconnect: %v", err)
			}
			c.banner()
			for {
				line, err := rl.Readline()
				if err != nil {
					break
				}
				if c.exec(ctx, line) {
					break
				}
			}
			return c.wait()
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "Optional YAML config file")
	cmd.Flags().StringVar(&keystore, "keystore", "", "Keystore directory (overrides KEYSTORE_DIR)")
	cmd.Flags().StringVar(&rpcURL, "rpc", "", "Node RPC URL watched for chain changes (overrides ETH_RPC_URL)")
	cmd.Flags().StringVar(&history, "history", "", "Readline history file")
	cmd.Flags().IntVar(&verbosity, "verbosity", 2, "Log level 0-5")
	cmd.Flags().BoolVar(&dev, "dev", false, "Use a throwaway in-memory wallet with three accounts")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		log.Fatal(err)
	}
}

func (c *console) banner() {
	c.printf(color.New(color.FgCyan), "socialzk console. Type 'help' for commands.")
	c.showState()
}

// splitCommand returns the lowercase verb and the raw remainder.
func splitCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	verb, rest, _ := strings.Cut(line, " ")
	return strings.ToLower(verb), rest
}

func statusColor(s wallet.Status) *color.Color {
	switch s {
	case wallet.StatusConnected:
		return color.New(color.FgGreen)
	case wallet.StatusError:
		return color.New(color.FgRed)
	case wallet.StatusConnecting:
		return color.New(color.FgYellow)
	}
	return color.New(color.FgWhite)
}

const usage = `commands:
  connect               request wallet access
  disconnect            drop the wallet session
  generate <social id>  request a proof (runs in the background)
  show                  print the current proof
  advance               mark the current proof as seen
  reset                 discard the current proof
  state                 print session and flow state
  switch [n ...]        dev wallet: push an account change (no args: none)
  chain <id>            dev wallet: push a chain change
  exit`
