package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"go.vocdoni.io/ballotchain/crypto/ethereum"
	"go.vocdoni.io/ballotchain/types"
	"go.vocdoni.io/ballotchain/util"
)

var (
	electionName       string
	electionCandidates []string
	electionIssuerKey  string
	electionDuration   time.Duration
	electionOut        string
)

var electionCmd = &cobra.Command{
	Use:   "election",
	Short: "Election descriptors shared by all nodes.",
}

var electionNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Write a new election descriptor with a random id.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		issuerKey := ethereum.NewSignKeys()
		if err := issuerKey.AddHexKey(electionIssuerKey); err != nil {
			return fmt.Errorf("cannot load issuer key: %w", err)
		}
		election := &types.Election{
			ID:           util.RandomBytes(types.HashLength),
			Name:         electionName,
			Candidates:   electionCandidates,
			IssuerPubKey: issuerKey.PublicKey(),
		}
		if electionDuration > 0 {
			election.StartTime = time.Now().UTC().Truncate(time.Second)
			election.EndTime = election.StartTime.Add(electionDuration)
		}
		if err := election.Validate(); err != nil {
			return err
		}
		data, err := json.MarshalIndent(election, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(electionOut, data, 0o644); err != nil {
			return err
		}
		printKV("election", election.ID.String())
		printKV("written to", electionOut)
		return nil
	},
}

func init() {
	f := electionNewCmd.Flags()
	f.StringVar(&electionName, "name", "", "election name")
	f.StringSliceVar(&electionCandidates, "candidates", nil, "comma-separated candidates")
	f.StringVar(&electionIssuerKey, "issuerKey", "", "issuer private key")
	f.DurationVar(&electionDuration, "duration", 0, "voting period from now (zero means no end)")
	f.StringVarP(&electionOut, "out", "o", "election.json", "output file")
	electionNewCmd.MarkFlagRequired("issuerKey")
}
