package main

import (
	"github.com/spf13/cobra"

	"go.vocdoni.io/ballotchain/crypto/ethereum"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Validator, issuer and voter keys.",
}

var keysNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a secp256k1 key and print it with its address.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key := ethereum.NewSignKeys()
		if err := key.Generate(); err != nil {
			return err
		}
		pub, priv := key.HexString()
		printKV("address", key.Address().Hex())
		printKV("public key", pub)
		printKV("private key", priv)
		return nil
	},
}
