// Package fieldhash maps application values into the BN254 scalar field and
// computes the MiMC commitment the ownership circuit checks.
package fieldhash

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// FromString returns keccak256(s) reduced modulo the field order.
func FromString(s string) *big.Int {
	var e fr.Element
	e.SetBytes(crypto.Keccak256([]byte(s)))
	return e.BigInt(new(big.Int))
}

// FromAddress interprets the 20 address bytes as a big-endian integer.
func FromAddress(a common.Address) *big.Int {
	return new(big.Int).SetBytes(a.Bytes())
}

// Commit returns MiMC(x0, x1, ...) over BN254.
func Commit(xs ...*big.Int) (*big.Int, error) {
	h := mimc.NewMiMC()
	for i, x := range xs {
		var e fr.Element
		e.SetBigInt(x)
		b := e.Bytes()
		if _, err := h.Write(b[:]); err != nil {
			return nil, fmt.Errorf("commit element %d: %w", i, err)
		}
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out.BigInt(new(big.Int)), nil
}
