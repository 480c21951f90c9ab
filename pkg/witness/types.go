package witness

import (
	backendwitness "github.com/consensys/gnark/backend/witness"

	"github.com/yourorg/socialzk/circuits"
)

// PublicInputs are the circuit's public values as decimal field elements.
type PublicInputs struct {
	Commitment string `json:"commitment"`
	Account    string `json:"account"`
	Schema     string `json:"schema"`
}

type Bundle struct {
	Full       backendwitness.Witness
	Public     PublicInputs
	Assignment *circuits.SocialOwnershipCircuit
}
