package types

// Signer computes a deterministic digest over payload bytes and verifies a
// payload against a previously computed digest. Implementations hold no
// mutable state; Sign and Verify are pure functions over their inputs.
type Signer interface {
	Algorithm() string

	// Sign returns a fixed-size digest of payload.
	Sign(payload []byte) []byte

	// Verify reports whether the recomputed digest of payload equals
	// signature. Implementations compare in constant time.
	Verify(payload []byte, signature []byte) bool
}

type SignerCreator func() (Signer, error)
