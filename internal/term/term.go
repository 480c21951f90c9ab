// Package term holds the terminal plumbing shared by the command line tools.
package term

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/yourorg/socialzk/pkg/wallet"
	"github.com/yourorg/socialzk/pkg/wallet/kswallet"
)

// SetupLogging installs a terminal log handler on stderr. Verbosity follows
// the legacy geth scale, 0 (crit) to 5 (trace).
func SetupLogging(verbosity int) {
	h := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(verbosity), true)
	log.SetDefault(log.NewLogger(h))
}

// PassphrasePrompt asks for keystore passphrases on rl. Interrupting the
// prompt or closing input counts as the user declining.
func PassphrasePrompt(rl *readline.Instance) kswallet.PromptFunc {
	return func(ctx context.Context, account common.Address) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		pass, err := rl.ReadPassword(fmt.Sprintf("Passphrase for %s: ", wallet.NormalizeAddress(account)))
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: passphrase entry cancelled", wallet.ErrUserRejected)
		}
		if err != nil {
			return "", err
		}
		return string(pass), nil
	}
}
