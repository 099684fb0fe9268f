// Package web3 houses blockchain connectivity for the management plane and
// the agent runtime: chain definitions for the supported testnets, the chain
// client contract used by wallets, ENS lookups and refunds, and amount
// formatting helpers.
package web3
