package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-filecache/types"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		signer types.Signer
	}{
		{"sha256", NewSHA256Signer()},
		{"sha512", NewSHA512Signer()},
		{"blake2b", NewBlake2bSigner()},
	}

	payload := []byte("the quick brown fox jumps over the lazy dog")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := tt.signer.Sign(payload)

			assert.NotEmpty(t, sig)
			assert.True(t, tt.signer.Verify(payload, sig))
			assert.Equal(t, tt.name, tt.signer.Algorithm())
		})
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	signer := NewSHA256Signer()

	payload := []byte("original payload")
	sig := signer.Sign(payload)

	assert.False(t, signer.Verify([]byte("tampered payload"), sig))
	assert.False(t, signer.Verify(payload[:len(payload)-1], sig))
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	signer := NewSHA256Signer()

	payload := []byte("payload")
	sig := signer.Sign(payload)

	tampered := make([]byte, len(sig))
	copy(tampered, sig)
	tampered[0] ^= 0xff

	assert.False(t, signer.Verify(payload, tampered))
	assert.False(t, signer.Verify(payload, sig[:len(sig)-1]))
}

func TestVerifyRejectsEmptySignature(t *testing.T) {
	signer := NewSHA256Signer()

	assert.False(t, signer.Verify([]byte("payload"), nil))
	assert.False(t, signer.Verify([]byte("payload"), []byte{}))
}

func TestSignIsDeterministic(t *testing.T) {
	tests := []struct {
		name   string
		signer types.Signer
		size   int
	}{
		{"sha256", NewSHA256Signer(), 32},
		{"sha512", NewSHA512Signer(), 64},
		{"blake2b", NewBlake2bSigner(), 32},
	}

	payload := []byte("deterministic input")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := tt.signer.Sign(payload)
			second := tt.signer.Sign(payload)

			assert.Equal(t, first, second)
			assert.Len(t, first, tt.size)
		})
	}
}

func TestSignDifferentPayloadsDiffer(t *testing.T) {
	signer := NewSHA256Signer()

	assert.NotEqual(t, signer.Sign([]byte("one")), signer.Sign([]byte("two")))
}

func TestNewSigner(t *testing.T) {
	tests := []struct {
		name      string
		config    *types.SignatureConfig
		algorithm string
		wantErr   error
	}{
		{"default", &types.SignatureConfig{}, "sha256", nil},
		{"sha256", &types.SignatureConfig{Algorithm: "sha256"}, "sha256", nil},
		{"sha512", &types.SignatureConfig{Algorithm: "sha512"}, "sha512", nil},
		{"blake2b", &types.SignatureConfig{Algorithm: "blake2b"}, "blake2b", nil},
		{"unknown", &types.SignatureConfig{Algorithm: "md5"}, "", types.ErrSignerTypeUnknown},
		{"nil config", nil, "", types.ErrConfigIsNil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := NewSigner(tt.config)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.algorithm, signer.Algorithm())
		})
	}
}

func TestRegisterSigner(t *testing.T) {
	RegisterSigner("identity", func() (types.Signer, error) {
		return NewSHA256Signer(), nil
	})

	signer, err := NewSigner(&types.SignatureConfig{Algorithm: "identity"})

	require.NoError(t, err)
	assert.Equal(t, "sha256", signer.Algorithm())
}
