package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"go.vocdoni.io/ballotchain/api"
	"go.vocdoni.io/ballotchain/builder"
	"go.vocdoni.io/ballotchain/config"
	"go.vocdoni.io/ballotchain/consensus"
	"go.vocdoni.io/ballotchain/crypto/ethereum"
	"go.vocdoni.io/ballotchain/db"
	"go.vocdoni.io/ballotchain/db/metadb"
	"go.vocdoni.io/ballotchain/issuer"
	"go.vocdoni.io/ballotchain/log"
	"go.vocdoni.io/ballotchain/network/p2p"
	"go.vocdoni.io/ballotchain/node"
	"go.vocdoni.io/ballotchain/types"
)

func newConfig() (*config.Config, config.Error) {
	var cfgError config.Error
	globalCfg := config.NewConfig()
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, config.Error{
			Critical: true,
			Message:  fmt.Sprintf("cannot get user home directory with error: %s", err),
		}
	}

	// CLI flags have preference over the config file
	flag.StringVarP(&globalCfg.DataDir, "dataDir", "d", home+"/.ballotchain",
		"directory where data is stored")
	flag.StringVarP(&globalCfg.DBType, "dbType", "t", db.TypePebble,
		fmt.Sprintf("key-value db type (%s, %s)", db.TypePebble, db.TypeBadger))
	flag.StringP("logLevel", "l", "info", "log level (debug, info, warn, error, fatal)")
	flag.String("logOutput", "stdout", "log output (stdout, stderr or filepath)")
	flag.String("logErrorFile", "", "log errors and warnings to a file")
	flag.Bool("saveConfig", false, "overwrite an existing config file with the provided CLI flags")
	flag.StringP("signingKey", "k", "", "validator private key (generated if empty)")
	flag.StringP("election", "e", "", "JSON file describing the election")
	flag.StringSlice("validators", []string{}, "comma-separated validator addresses")
	// ledger
	flag.Int("maxBallots", 100, "ballots per block")
	flag.Duration("maxInterval", 5*time.Second, "max wait before cutting a partial block")
	flag.Int("mempoolSize", node.DefaultMempoolSize, "gossiped ballots buffered before admission")
	flag.Duration("closeGrace", builder.DefaultCloseGrace,
		"time after the election end to commit pending ballots before closing the ledger")
	// consensus
	flag.Duration("timeoutPropose", 3*time.Second, "propose step timeout")
	flag.Duration("timeoutPrevote", time.Second, "prevote step timeout")
	flag.Duration("timeoutPrecommit", time.Second, "precommit step timeout")
	flag.Duration("timeoutDelta", 500*time.Millisecond, "timeout increase per round")
	// p2p
	flag.Int("p2pPort", 26656, "p2p listen port")
	flag.StringSlice("bootnodes", []string{}, "comma-separated bootnode multiaddresses")
	flag.String("topic", "ballotchain", "gossip topic")
	// api
	flag.Bool("apiEnabled", true, "enable the HTTP API")
	flag.String("listenHost", "0.0.0.0", "API endpoint listen address")
	flag.IntP("listenPort", "p", 9090, "API endpoint http port")
	// issuer
	flag.Bool("issuerEnabled", false, "serve blind credentials for the election")
	flag.String("issuerKey", "", "issuer private key, must match the election issuer public key")
	flag.StringSlice("voters", []string{}, "comma-separated eligible voter addresses")
	// metrics
	flag.Bool("metricsEnabled", false, "enable prometheus metrics")
	flag.Int("metricsRefreshInterval", 5, "metrics refresh interval in seconds")

	flag.CommandLine.SortFlags = false
	flag.Parse()

	viper := viper.New()
	viper.SetConfigName("ballotchain")
	viper.SetConfigType("yml")
	viper.SetEnvPrefix("BALLOTCHAIN")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.BindPFlag("dataDir", flag.Lookup("dataDir"))
	globalCfg.DataDir = viper.GetString("dataDir")
	viper.AddConfigPath(globalCfg.DataDir)

	viper.BindPFlag("dbType", flag.Lookup("dbType"))
	viper.BindPFlag("logLevel", flag.Lookup("logLevel"))
	viper.BindPFlag("logOutput", flag.Lookup("logOutput"))
	viper.BindPFlag("logErrorFile", flag.Lookup("logErrorFile"))
	viper.BindPFlag("saveConfig", flag.Lookup("saveConfig"))
	viper.BindPFlag("signingKey", flag.Lookup("signingKey"))
	viper.BindPFlag("electionFile", flag.Lookup("election"))
	viper.BindPFlag("validators", flag.Lookup("validators"))

	viper.BindPFlag("ledger.MaxBallots", flag.Lookup("maxBallots"))
	viper.BindPFlag("ledger.MaxInterval", flag.Lookup("maxInterval"))
	viper.BindPFlag("ledger.MempoolSize", flag.Lookup("mempoolSize"))
	viper.BindPFlag("ledger.CloseGrace", flag.Lookup("closeGrace"))

	viper.BindPFlag("consensus.TimeoutPropose", flag.Lookup("timeoutPropose"))
	viper.BindPFlag("consensus.TimeoutPrevote", flag.Lookup("timeoutPrevote"))
	viper.BindPFlag("consensus.TimeoutPrecommit", flag.Lookup("timeoutPrecommit"))
	viper.BindPFlag("consensus.TimeoutDelta", flag.Lookup("timeoutDelta"))

	viper.BindPFlag("p2p.ListenPort", flag.Lookup("p2pPort"))
	viper.BindPFlag("p2p.Bootnodes", flag.Lookup("bootnodes"))
	viper.BindPFlag("p2p.Topic", flag.Lookup("topic"))

	viper.BindPFlag("api.Enabled", flag.Lookup("apiEnabled"))
	viper.BindPFlag("api.Host", flag.Lookup("listenHost"))
	viper.BindPFlag("api.Port", flag.Lookup("listenPort"))

	viper.BindPFlag("issuer.Enabled", flag.Lookup("issuerEnabled"))
	viper.BindPFlag("issuer.Key", flag.Lookup("issuerKey"))
	viper.BindPFlag("issuer.Voters", flag.Lookup("voters"))

	viper.BindPFlag("metrics.Enabled", flag.Lookup("metricsEnabled"))
	viper.BindPFlag("metrics.RefreshInterval", flag.Lookup("metricsRefreshInterval"))

	_, err = os.Stat(filepath.Join(globalCfg.DataDir, "ballotchain.yml"))
	if os.IsNotExist(err) {
		cfgError = config.Error{
			Message: fmt.Sprintf("creating new config file in %s", globalCfg.DataDir),
		}
		if err := os.MkdirAll(globalCfg.DataDir, os.ModePerm); err != nil {
			cfgError = config.Error{
				Message: fmt.Sprintf("cannot create data directory: %s", err),
			}
		}
		if err := viper.SafeWriteConfig(); err != nil {
			cfgError = config.Error{
				Message: fmt.Sprintf("cannot write config file into config dir: %s", err),
			}
		}
	} else if err := viper.ReadInConfig(); err != nil {
		cfgError = config.Error{
			Message: fmt.Sprintf("cannot read loaded config file in %s: %s", globalCfg.DataDir, err),
		}
	}
	if err := viper.Unmarshal(&globalCfg); err != nil {
		cfgError = config.Error{
			Message: fmt.Sprintf("cannot unmarshal loaded config file: %s", err),
		}
	}

	if len(globalCfg.SigningKey) < 32 {
		fmt.Println("no signing key, generating one...")
		signer := ethereum.NewSignKeys()
		if err := signer.Generate(); err != nil {
			return globalCfg, config.Error{
				Message: fmt.Sprintf("cannot generate signing key: %s", err),
			}
		}
		_, priv := signer.HexString()
		viper.Set("signingKey", priv)
		globalCfg.SigningKey = priv
		globalCfg.SaveConfig = true
	}

	if globalCfg.SaveConfig {
		viper.Set("saveConfig", false)
		if err := viper.WriteConfig(); err != nil {
			cfgError = config.Error{
				Message: fmt.Sprintf("cannot overwrite config file into config dir: %s", err),
			}
		}
	}
	return globalCfg, cfgError
}

func main() {
	globalCfg, cfgErr := newConfig()
	if globalCfg == nil {
		log.Fatal("cannot read configuration")
	}
	log.Init(globalCfg.LogLevel, globalCfg.LogOutput)
	if path := globalCfg.LogErrorFile; path != "" {
		if err := log.SetFileErrorLog(path); err != nil {
			log.Fatal(err)
		}
	}
	log.Debugf("initializing config %+v", *globalCfg)

	if cfgErr.Critical && cfgErr.Message != "" {
		log.Fatalf("critical error loading config: %s", cfgErr.Message)
	} else if !cfgErr.Critical && cfgErr.Message != "" {
		log.Warnf("non-critical error loading config: %s", cfgErr.Message)
	} else {
		log.Infof("config file loaded successfully. Reminder: CLI flags have preference")
	}
	if !globalCfg.ValidDBType() {
		log.Fatalf("dbType %s is invalid. Valid ones: %s, %s", globalCfg.DBType, db.TypePebble, db.TypeBadger)
	}

	signer := ethereum.NewSignKeys()
	if err := signer.AddHexKey(globalCfg.SigningKey); err != nil {
		log.Fatalf("cannot load signing key: %v", err)
	}
	log.Infof("validator address %s", signer.Address().Hex())

	election, err := config.LoadElection(globalCfg.ElectionFile)
	if err != nil {
		log.Fatal(err)
	}
	validators, err := globalCfg.ValidatorAddresses()
	if err != nil {
		log.Fatal(err)
	}
	if len(validators) == 0 {
		log.Fatal("no validators configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport, err := p2p.New(ctx, signer, p2p.Config{
		ListenAddrs: []string{fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", globalCfg.P2P.ListenPort)},
		Bootnodes:   globalCfg.P2P.Bootnodes,
		Topic:       globalCfg.P2P.Topic,
	})
	if err != nil {
		log.Fatal(err)
	}
	for _, addr := range transport.Addrs() {
		log.Infof("p2p listening on %s", addr)
	}

	if globalCfg.Metrics.Enabled {
		node.RegisterMetrics()
	}
	n, err := node.New(node.Config{
		DataDir:    globalCfg.DataDir,
		DBType:     globalCfg.DBType,
		Election:   election,
		Validators: validators,
		Builder: builder.Config{
			MaxBallots:  globalCfg.Ledger.MaxBallots,
			MaxInterval: globalCfg.Ledger.MaxInterval,
			CloseGrace:  globalCfg.Ledger.CloseGrace,
		},
		Consensus: consensus.Config{
			TimeoutPropose:   globalCfg.Consensus.TimeoutPropose,
			TimeoutPrevote:   globalCfg.Consensus.TimeoutPrevote,
			TimeoutPrecommit: globalCfg.Consensus.TimeoutPrecommit,
			TimeoutDelta:     globalCfg.Consensus.TimeoutDelta,
		},
		MempoolSize: globalCfg.Ledger.MempoolSize,
	}, signer, transport)
	if err != nil {
		log.Fatal(err)
	}
	n.Start(ctx)

	var csp *issuer.CSP
	var issuerDB db.Database
	if globalCfg.Issuer.Enabled {
		csp, issuerDB, err = startIssuer(globalCfg, election)
		if err != nil {
			log.Fatal(err)
		}
	}

	var srv *api.API
	if globalCfg.API.Enabled {
		conf := api.Config{
			Host: globalCfg.API.Host,
			Port: globalCfg.API.Port,
		}
		if csp != nil {
			conf.Issuer = csp
		}
		if globalCfg.Metrics.Enabled {
			conf.MetricsRefresh = time.Duration(globalCfg.Metrics.RefreshInterval) * time.Second
		}
		if srv, err = api.New(n, conf); err != nil {
			log.Fatal(err)
		}
		if err := srv.Start(); err != nil {
			log.Fatal(err)
		}
		log.Infof("api available at http://%s", srv.Addr())
	}

	log.Info("startup complete")
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.Warnf("received %s, shutting down", sig)

	if srv != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Stop(stopCtx); err != nil {
			log.Warnf("cannot stop api: %v", err)
		}
		stopCancel()
	}
	n.Stop()
	if issuerDB != nil {
		if err := issuerDB.Close(); err != nil {
			log.Warnf("cannot close issuer database: %v", err)
		}
	}
}

// startIssuer opens the issuer database and registers the configured voters.
func startIssuer(cfg *config.Config, election *types.Election) (*issuer.CSP, db.Database, error) {
	key := ethereum.NewSignKeys()
	if err := key.AddHexKey(cfg.Issuer.Key); err != nil {
		return nil, nil, fmt.Errorf("cannot load issuer key: %w", err)
	}
	voters, err := cfg.VoterAddresses()
	if err != nil {
		return nil, nil, err
	}
	database, err := metadb.New(cfg.DBType, filepath.Join(cfg.DataDir, "issuer"))
	if err != nil {
		return nil, nil, err
	}
	csp, err := issuer.New(key, election.ID, database)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	if !election.IssuerPubKey.Equal(csp.PublicKey()) {
		database.Close()
		return nil, nil, fmt.Errorf("issuer key does not match the election issuer public key")
	}
	if err := csp.AddVoters(voters...); err != nil {
		database.Close()
		return nil, nil, err
	}
	log.Infow("credential issuer enabled", "voters", len(voters))
	return csp, database, nil
}
