// pkg/witness/builder.go
package witness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/consensys/gnark/frontend"
	"github.com/ethereum/go-ethereum/common"

	"github.com/yourorg/socialzk/circuits"
	"github.com/yourorg/socialzk/internal/fieldhash"
)

var ErrEmptySocialID = errors.New("empty social id")

// Build assigns the ownership circuit for socialID held by account under
// schemaID and returns the full witness with its public part.
func Build(socialID string, account common.Address, schemaID string) (*Bundle, error) {
	if strings.TrimSpace(socialID) == "" {
		return nil, ErrEmptySocialID
	}

	social := fieldhash.FromString(socialID)
	acct := fieldhash.FromAddress(account)
	schema := fieldhash.FromString(schemaID)

	commit, err := fieldhash.Commit(social, acct, schema)
	if err != nil {
		return nil, err
	}

	assignment := &circuits.SocialOwnershipCircuit{
		Commitment: commit,
		Account:    acct,
		Schema:     schema,
		Social:     social,
	}
	full, err := frontend.NewWitness(assignment, circuits.Curve().ScalarField())
	if err != nil {
		return nil, fmt.Errorf("new witness: %w", err)
	}

	return &Bundle{
		Full: full,
		Public: PublicInputs{
			Commitment: commit.String(),
			Account:    acct.String(),
			Schema:     schema.String(),
		},
		Assignment: assignment,
	}, nil
}
