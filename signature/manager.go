package signature

import (
	"github.com/saiset-co/sai-filecache/types"
)

var customSignerCreators = make(map[string]types.SignerCreator)

// RegisterSigner makes a custom signature algorithm selectable by name.
func RegisterSigner(algorithm string, creator types.SignerCreator) {
	customSignerCreators[algorithm] = creator
}

// NewSigner returns the signer for the configured algorithm.
func NewSigner(config *types.SignatureConfig) (types.Signer, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	switch config.Algorithm {
	case "", "sha256":
		return NewSHA256Signer(), nil
	case "sha512":
		return NewSHA512Signer(), nil
	case "blake2b":
		return NewBlake2bSigner(), nil
	default:
		if creator, exists := customSignerCreators[config.Algorithm]; exists {
			return creator()
		}
		return nil, types.Errorf(types.ErrSignerTypeUnknown, "algorithm: %s", config.Algorithm)
	}
}
