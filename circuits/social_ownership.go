package circuits

import (
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

func Curve() ecc.ID { return ecc.BN254 }

// SocialOwnershipCircuit proves knowledge of the social identifier behind a
// public commitment bound to an account and a schema.
type SocialOwnershipCircuit struct {
	Commitment frontend.Variable `gnark:",public"`
	Account    frontend.Variable `gnark:",public"`
	Schema     frontend.Variable `gnark:",public"`

	Social frontend.Variable
}

func (c *SocialOwnershipCircuit) Define(api frontend.API) error {
	// accounts are 20-byte addresses
	api.ToBinary(c.Account, 160)

	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Social, c.Account, c.Schema)
	api.AssertIsEqual(h.Sum(), c.Commitment)
	return nil
}
