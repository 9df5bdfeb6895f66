package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNetwork(t *testing.T) {
	t.Run("known networks", func(t *testing.T) {
		for _, n := range []string{"devnet", "testnet", "mainnet-beta", "localnet"} {
			got, err := ParseNetwork(n)
			require.NoError(t, err)
			assert.Equal(t, Network(n), got)
		}
	})

	t.Run("unknown network", func(t *testing.T) {
		_, err := ParseNetwork("mainnet")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown solana network")
	})
}

func TestServiceError(t *testing.T) {
	err := &ServiceError{Code: "WALLET_NOT_LINKED", Message: "no wallet linked"}
	assert.Equal(t, "no wallet linked", err.Error())
}
