// Package config holds the node configuration, as loaded from flags, the
// environment and the config file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"go.vocdoni.io/ballotchain/db"
	"go.vocdoni.io/ballotchain/types"
)

// Config stores the global configuration of a ballotchain node.
type Config struct {
	// DataDir is the base directory for the database and the config file.
	DataDir string
	// DBType is the key-value backend, pebble or badger.
	DBType string
	// LogLevel logging level
	LogLevel string
	// LogOutput logging output
	LogOutput string
	// LogErrorFile for logging warning, error and fatal messages
	LogErrorFile string
	// SigningKey is the validator private key, hex encoded.
	SigningKey string
	// ElectionFile is a JSON file describing the election.
	ElectionFile string
	// Validators are the addresses of the validator set.
	Validators []string
	// SaveConfig overwrites the config file with the CLI provided flags
	SaveConfig bool

	Ledger    *LedgerCfg
	Consensus *ConsensusCfg
	P2P       *P2PCfg
	API       *APICfg
	Issuer    *IssuerCfg
	Metrics   *MetricsCfg
}

// LedgerCfg sets the block cadence and the ingress buffer.
type LedgerCfg struct {
	MaxBallots  int
	MaxInterval time.Duration
	MempoolSize int
	CloseGrace  time.Duration
}

// ConsensusCfg sets the round timeouts.
type ConsensusCfg struct {
	TimeoutPropose   time.Duration
	TimeoutPrevote   time.Duration
	TimeoutPrecommit time.Duration
	TimeoutDelta     time.Duration
}

// P2PCfg configures the gossip transport.
type P2PCfg struct {
	ListenPort int
	Bootnodes  []string
	Topic      string
}

// APICfg configures the HTTP API.
type APICfg struct {
	Enabled bool
	Host    string
	Port    int
}

// IssuerCfg runs the credential issuer on this node. The key must match the
// election issuer public key.
type IssuerCfg struct {
	Enabled bool
	Key     string
	// Voters are the addresses of the eligible voters.
	Voters []string
}

// MetricsCfg initializes the metrics config
type MetricsCfg struct {
	Enabled         bool
	RefreshInterval int
}

// Error helps to handle better config errors on startup
type Error struct {
	// Critical indicates if the error encountered is critical and the app must be stopped
	Critical bool
	// Message error message
	Message string
}

// NewConfig returns a Config with the default values.
func NewConfig() *Config {
	return &Config{
		DBType:    db.TypePebble,
		LogLevel:  "info",
		LogOutput: "stdout",
		Ledger: &LedgerCfg{
			MaxBallots:  100,
			MaxInterval: 5 * time.Second,
			MempoolSize: 20000,
			CloseGrace:  30 * time.Second,
		},
		Consensus: &ConsensusCfg{
			TimeoutPropose:   3 * time.Second,
			TimeoutPrevote:   time.Second,
			TimeoutPrecommit: time.Second,
			TimeoutDelta:     500 * time.Millisecond,
		},
		P2P: &P2PCfg{
			ListenPort: 26656,
			Topic:      "ballotchain",
		},
		API: &APICfg{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    9090,
		},
		Issuer:  &IssuerCfg{},
		Metrics: &MetricsCfg{RefreshInterval: 5},
	}
}

// ValidDBType reports whether DBType is a supported backend.
func (c *Config) ValidDBType() bool {
	return c.DBType == db.TypePebble || c.DBType == db.TypeBadger
}

// ValidatorAddresses parses Validators.
func (c *Config) ValidatorAddresses() ([]ethcommon.Address, error) {
	return parseAddresses(c.Validators)
}

// VoterAddresses parses Issuer.Voters.
func (c *Config) VoterAddresses() ([]ethcommon.Address, error) {
	return parseAddresses(c.Issuer.Voters)
}

func parseAddresses(list []string) ([]ethcommon.Address, error) {
	addrs := make([]ethcommon.Address, 0, len(list))
	for _, s := range list {
		if !ethcommon.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		addrs = append(addrs, ethcommon.HexToAddress(s))
	}
	return addrs, nil
}

// LoadElection reads and validates an election from a JSON file.
func LoadElection(path string) (*types.Election, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read election file: %w", err)
	}
	election := &types.Election{}
	if err := json.Unmarshal(data, election); err != nil {
		return nil, fmt.Errorf("cannot decode election file %s: %w", path, err)
	}
	if err := election.Validate(); err != nil {
		return nil, err
	}
	return election, nil
}
