package agent

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
)

const addressPrefix = "agent1q"

// Address 由种子短语与 agent id 派生稳定的 agent 地址，同一种子的不同 agent 地址不同。
func Address(seed, agentID string) string {
	key, err := crypto.ToECDSA(crypto.Keccak256([]byte(seed), []byte(agentID)))
	if err != nil {
		return addressPrefix + hex.EncodeToString(crypto.Keccak256([]byte(agentID))[:26])
	}
	return addressPrefix + hex.EncodeToString(crypto.Keccak256(crypto.CompressPubkey(&key.PublicKey))[:26])
}
