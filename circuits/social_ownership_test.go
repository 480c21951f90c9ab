package circuits_test

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/test"
	"github.com/ethereum/go-ethereum/common"

	"github.com/yourorg/socialzk/circuits"
	"github.com/yourorg/socialzk/internal/fieldhash"
)

/* ---------------- helpers ---------------- */

func assignment(t *testing.T, social string, account common.Address, schema string) *circuits.SocialOwnershipCircuit {
	t.Helper()
	s, a, sc := fieldhash.FromString(social), fieldhash.FromAddress(account), fieldhash.FromString(schema)
	commit, err := fieldhash.Commit(s, a, sc)
	if err != nil {
		t.Fatal(err)
	}
	return &circuits.SocialOwnershipCircuit{
		Commitment: commit,
		Account:    a,
		Schema:     sc,
		Social:     s,
	}
}

/* ---------------- tests ---------------- */

func TestSocialOwnershipCorrect(t *testing.T) {
	assert := test.NewAssert(t)

	w := assignment(t, "alice", common.HexToAddress("0xabc0000000000000000000000000000000000123"), "schema-1")
	assert.ProverSucceeded(
		new(circuits.SocialOwnershipCircuit), w,
		test.WithCurves(circuits.Curve()),
		test.WithBackends(backend.GROTH16),
	)
}

func TestSocialOwnershipWrongSocialFails(t *testing.T) {
	assert := test.NewAssert(t)

	w := assignment(t, "alice", common.HexToAddress("0xabc0000000000000000000000000000000000123"), "schema-1")
	w.Social = fieldhash.FromString("mallory")
	assert.ProverFailed(
		new(circuits.SocialOwnershipCircuit), w,
		test.WithCurves(circuits.Curve()),
		test.WithBackends(backend.GROTH16),
	)
}

func TestSocialOwnershipOversizedAccountFails(t *testing.T) {
	assert := test.NewAssert(t)

	s, sc := fieldhash.FromString("alice"), fieldhash.FromString("schema-1")
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	commit, err := fieldhash.Commit(s, huge, sc)
	if err != nil {
		t.Fatal(err)
	}
	assert.ProverFailed(
		new(circuits.SocialOwnershipCircuit),
		&circuits.SocialOwnershipCircuit{Commitment: commit, Account: huge, Schema: sc, Social: s},
		test.WithCurves(circuits.Curve()),
		test.WithBackends(backend.GROTH16),
	)
}
