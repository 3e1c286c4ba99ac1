package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"go.vocdoni.io/ballotchain/config"
	"go.vocdoni.io/ballotchain/db"
	"go.vocdoni.io/ballotchain/db/metadb"
	"go.vocdoni.io/ballotchain/ledger"
	"go.vocdoni.io/ballotchain/tally"
)

var (
	chainDataDir  string
	chainDBType   string
	chainElection string
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Audit a node's ledger offline.",
}

var chainVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute every block hash and link.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(func(store *ledger.Store) error {
			printKV("height", store.Height())
			printKV("head", store.Head().Hash.String())
			if err := store.VerifyChain(); err != nil {
				failPrint.Fprintf(stdout, "chain is broken: %v\n", err)
				return err
			}
			okPrint.Fprintln(stdout, "chain is intact")
			return nil
		})
	},
}

var chainTallyCmd = &cobra.Command{
	Use:   "tally",
	Short: "Verify the chain and every ballot, then count the votes.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		election, err := config.LoadElection(chainElection)
		if err != nil {
			return err
		}
		return withLedger(func(store *ledger.Store) error {
			res, err := tally.ComputeTally(election, store)
			if err != nil {
				failPrint.Fprintf(stdout, "tally rejected: %v\n", err)
				return err
			}
			printKV("election", res.ElectionName)
			printKV("height", res.Height)
			printKV("votes", res.TotalVotes)
			for _, c := range res.Candidates {
				printKV("  "+c, res.Counts[c])
			}
			if res.Winner != "" {
				okPrint.Fprintf(stdout, "winner: %s\n", res.Winner)
			}
			return nil
		})
	},
}

// withLedger opens the chain database the node writes under its data dir.
func withLedger(fn func(*ledger.Store) error) error {
	database, err := metadb.New(chainDBType, filepath.Join(chainDataDir, "chain"))
	if err != nil {
		return err
	}
	defer database.Close()
	blockLog, err := ledger.NewDBLog(database)
	if err != nil {
		return err
	}
	store, err := ledger.Open(blockLog)
	if err != nil {
		return err
	}
	return fn(store)
}

func init() {
	for _, c := range []*cobra.Command{chainVerifyCmd, chainTallyCmd} {
		c.Flags().StringVarP(&chainDataDir, "dataDir", "d", "", "node data directory")
		c.Flags().StringVarP(&chainDBType, "dbType", "t", db.TypePebble, "key-value db type")
		c.MarkFlagRequired("dataDir")
	}
	chainTallyCmd.Flags().StringVarP(&chainElection, "election", "e", "", "election JSON file")
	chainTallyCmd.MarkFlagRequired("election")
}
