package signature

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"hash"

	"golang.org/x/crypto/blake2b"

	"github.com/saiset-co/sai-filecache/types"
)

// hashSigner implements types.Signer over any fixed-output hash constructor.
// Sign and Verify build a fresh hash per call, so the signer itself carries
// no mutable state and is safe for concurrent use.
type hashSigner struct {
	algorithm string
	newHash   func() hash.Hash
}

func NewSHA256Signer() types.Signer {
	return &hashSigner{
		algorithm: "sha256",
		newHash:   sha256.New,
	}
}

func NewSHA512Signer() types.Signer {
	return &hashSigner{
		algorithm: "sha512",
		newHash:   sha512.New,
	}
}

func NewBlake2bSigner() types.Signer {
	return &hashSigner{
		algorithm: "blake2b",
		newHash: func() hash.Hash {
			// Size and key are fixed, so New256 cannot fail.
			h, _ := blake2b.New256(nil)
			return h
		},
	}
}

func (s *hashSigner) Algorithm() string {
	return s.algorithm
}

func (s *hashSigner) Sign(payload []byte) []byte {
	h := s.newHash()
	h.Write(payload)
	return h.Sum(nil)
}

func (s *hashSigner) Verify(payload []byte, signature []byte) bool {
	if len(signature) == 0 {
		return false
	}

	computed := s.Sign(payload)
	return subtle.ConstantTimeCompare(computed, signature) == 1
}
