// Package api is the public HTTP surface of a node: election details, the
// chain for independent audit, the tally, ballot submission and, when the
// node runs it, the credential issuer.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	chiprometheus "github.com/766b/chi-prometheus"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"go.vocdoni.io/ballotchain/issuer"
	"go.vocdoni.io/ballotchain/ledger"
	"go.vocdoni.io/ballotchain/log"
	"go.vocdoni.io/ballotchain/metrics"
	"go.vocdoni.io/ballotchain/tally"
	"go.vocdoni.io/ballotchain/types"
)

const (
	PingEndpoint       = "/ping"
	ElectionEndpoint   = "/election"
	ChainEndpoint      = "/chain"
	BlockEndpoint      = "/chain/blocks/{index}"
	VerifyEndpoint     = "/chain/verify"
	TallyEndpoint      = "/tally"
	BallotsEndpoint    = "/ballots"
	SessionsEndpoint   = "/issuer/sessions"
	SignatureEndpoint  = "/issuer/signatures"
	MetricsEndpoint    = "/metrics"
	indexURLParam      = "index"
	prometheusID       = "ballotchain_http"
	maxRequestBodySize = 1 << 20
)

// Node is what the API serves.
type Node interface {
	Election() *types.Election
	Ledger() *ledger.Store
	Tally() (*tally.Result, error)
	SubmitBallot(ctx context.Context, ballot *types.Ballot) error
}

// Config sets where the API listens. Issuer is optional.
type Config struct {
	Host string
	Port int
	// MetricsRefresh enables the /metrics endpoint when positive.
	MetricsRefresh time.Duration
	Issuer         issuer.Issuer
}

// API is the HTTP server of a node.
type API struct {
	node   Node
	issuer issuer.Issuer
	router *chi.Mux
	server *http.Server
	addr   net.Addr
}

// New builds the router. Call Start to listen.
func New(node Node, conf Config) (*API, error) {
	if node == nil {
		return nil, fmt.Errorf("missing node")
	}
	a := &API{node: node, issuer: conf.Issuer}
	a.initRouter(conf)
	a.server = &http.Server{
		Addr:              net.JoinHostPort(conf.Host, fmt.Sprintf("%d", conf.Port)),
		Handler:           a.router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// Start listens and serves in the background.
func (a *API) Start() error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return err
	}
	a.addr = ln.Addr()
	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorw(err, "API server stopped")
		}
	}()
	log.Infof("API ready at http://%s", ln.Addr())
	return nil
}

// Addr returns the listening address once started.
func (a *API) Addr() net.Addr { return a.addr }

// Stop shuts the server down.
func (a *API) Stop(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

func (a *API) initRouter(conf Config) {
	a.router = chi.NewRouter()
	a.router.Use(middleware.RealIP)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Heartbeat(PingEndpoint))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 30*time.Second))
	a.router.Use(middleware.Timeout(30 * time.Second))
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300, // Maximum value not ignored by any of major browsers
	}).Handler)
	if conf.MetricsRefresh > 0 {
		a.router.Use(chiprometheus.NewMiddleware(prometheusID))
		metrics.NewAgent(MetricsEndpoint, conf.MetricsRefresh, a.router)
	}
	a.registerHandlers()
}

func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", ElectionEndpoint, "method", "GET")
	a.router.Get(ElectionEndpoint, a.election)
	log.Infow("register handler", "endpoint", ChainEndpoint, "method", "GET")
	a.router.Get(ChainEndpoint, a.chainInfo)
	log.Infow("register handler", "endpoint", BlockEndpoint, "method", "GET")
	a.router.Get(BlockEndpoint, a.block)
	log.Infow("register handler", "endpoint", VerifyEndpoint, "method", "GET")
	a.router.Get(VerifyEndpoint, a.verifyChain)
	log.Infow("register handler", "endpoint", TallyEndpoint, "method", "GET")
	a.router.Get(TallyEndpoint, a.tally)
	log.Infow("register handler", "endpoint", BallotsEndpoint, "method", "POST")
	a.router.Post(BallotsEndpoint, a.submitBallot)
	log.Infow("register handler", "endpoint", SessionsEndpoint, "method", "POST")
	a.router.Post(SessionsEndpoint, a.newSession)
	log.Infow("register handler", "endpoint", SignatureEndpoint, "method", "POST")
	a.router.Post(SignatureEndpoint, a.blindSignature)
}
