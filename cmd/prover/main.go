package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/socialzk/internal/app"
	"github.com/yourorg/socialzk/internal/config"
	"github.com/yourorg/socialzk/internal/term"
	"github.com/yourorg/socialzk/pkg/proof"
	"github.com/yourorg/socialzk/pkg/wallet"
	"github.com/yourorg/socialzk/pkg/wallet/memwallet"
)

// contextKey is a custom type for context keys to avoid conflicts
type contextKey string

const startTimeKey contextKey = "start"

func main() {
	var (
		cfgPath   string
		socialID  string
		keystore  string
		rpcURL    string
		backend   string
		outDir    string
		verbosity int
		dev       bool
	)

	rootCmd := &cobra.Command{
		Use:   "prover",
		Short: "Connect a wallet and generate a social ownership proof",
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
			if backend != "" {
				cfg.Backend = backend
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			rl, err := readline.NewEx(&readline.Config{Prompt: "> "})
			if err != nil {
				return err
			}
			defer rl.Close()

			opts := app.Options{Prompt: term.PassphrasePrompt(rl)}
			if dev {
				w, err := memwallet.Generate(1)
				if err != nil {
					return err
				}
				opts.Provider = w
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			// -----------------------------------------------------------------
			// Wallet + backend setup
			// -----------------------------------------------------------------
			if err := a.Start(ctx); err != nil {
				return err
			}
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.Prepare(gctx) })
			g.Go(func() error { return a.Session.Connect(gctx) })
			if err := g.Wait(); err != nil {
				return err
			}
			addr, _ := a.Session.Address()
			fmt.Printf("wallet: %s\n", wallet.NormalizeAddress(addr))

			// -----------------------------------------------------------------
			// Prove
			// -----------------------------------------------------------------
			art, err := a.Pipeline.Generate(ctx, proof.Request{SocialID: socialID})
			if err != nil {
				return err
			}
			a.Flow.AdvanceAfterProof()

			// -----------------------------------------------------------------
			// Outputs
			// -----------------------------------------------------------------
			path, err := art.WriteFile(outDir)
			if err != nil {
				return err
			}
			fmt.Printf("proof %s written to %s\n", art.ID, path)
			for _, in := range art.FormatPublicInputs() {
				fmt.Printf("  %s: %s\n", in.Key, in.Value)
			}
			fmt.Printf("proof done in %s\n", time.Since(cmd.Context().Value(startTimeKey).(time.Time)))
			return nil
		},
	}

	rootCmd.Flags().StringVar(&cfgPath, "config", "", "Optional YAML config file")
	rootCmd.Flags().StringVar(&socialID, "social-id", "", "Social identifier to prove")
	rootCmd.Flags().StringVar(&keystore, "keystore", "", "Keystore directory (overrides KEYSTORE_DIR)")
	rootCmd.Flags().StringVar(&rpcURL, "rpc", "", "Node RPC URL watched for chain changes (overrides ETH_RPC_URL)")
	rootCmd.Flags().StringVar(&backend, "backend", "", "Attestation backend: local or remote (overrides ATTEST_BACKEND)")
	rootCmd.Flags().StringVar(&outDir, "outdir", "./", "Output directory")
	rootCmd.Flags().IntVar(&verbosity, "verbosity", 3, "Log level 0-5")
	rootCmd.Flags().BoolVar(&dev, "dev", false, "Use a throwaway in-memory wallet")
	_ = rootCmd.MarkFlagRequired("social-id")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	rootCmd.SetContext(context.WithValue(ctx, startTimeKey, time.Now()))
	if err := rootCmd.Execute(); err != nil {
		stop()
		log.Fatal(err)
	}
}
