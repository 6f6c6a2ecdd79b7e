// Command zkgated is the coordination service entrypoint: it loads
// configuration, wires every store and worker, mounts the four protocol
// adapters on one HTTP server, and runs until an interrupt signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/zkgate-io/zkgate/internal/adapter/chat"
	"github.com/zkgate-io/zkgate/internal/adapter/discovery"
	"github.com/zkgate-io/zkgate/internal/adapter/rest"
	"github.com/zkgate-io/zkgate/internal/adapter/taskrpc"
	"github.com/zkgate-io/zkgate/internal/adapter/toolrpc"
	"github.com/zkgate-io/zkgate/internal/chainrpc"
	"github.com/zkgate-io/zkgate/internal/chatsessionstore"
	"github.com/zkgate-io/zkgate/internal/circuits"
	"github.com/zkgate-io/zkgate/internal/config"
	"github.com/zkgate-io/zkgate/internal/enclave"
	"github.com/zkgate-io/zkgate/internal/eventbus"
	"github.com/zkgate-io/zkgate/internal/facilitator"
	"github.com/zkgate-io/zkgate/internal/kv"
	"github.com/zkgate-io/zkgate/internal/llmrouter"
	"github.com/zkgate-io/zkgate/internal/logging"
	"github.com/zkgate-io/zkgate/internal/payment"
	"github.com/zkgate-io/zkgate/internal/proofcache"
	"github.com/zkgate-io/zkgate/internal/proofresult"
	"github.com/zkgate-io/zkgate/internal/ratelimit"
	"github.com/zkgate-io/zkgate/internal/sessionstore"
	"github.com/zkgate-io/zkgate/internal/skills"
	"github.com/zkgate-io/zkgate/internal/taskstore"
	"github.com/zkgate-io/zkgate/internal/worker"
)

const (
	serverName       = "zkgate-coordination-service"
	serverVersion    = "0.1.0"
	defaultConfig    = "config.yaml"
	settlementPoll   = 30 * time.Second
	proofCacheTTL    = time.Hour
	rateLimitWindow  = time.Minute
	rateLimitBudget  = 60
	chatModelDefault = "gpt-4o-mini"
)

func main() {
	configPath := flag.String("config", defaultConfig, "path to the service config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logLevel(cfg.Logging.Level), os.Stderr)
	log.Info("starting zkgate coordination service", map[string]interface{}{
		"version": serverVersion,
		"config":  *configPath,
	})

	store, closeStore, err := buildKVStore(cfg.Service.KVURL)
	if err != nil {
		log.Error("failed to construct kv store", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer closeStore()

	for networkName, net := range cfg.Networks {
		for circuitID, addr := range net.VerifierContracts {
			circuits.RegisterDeployment(circuitID, net.ChainID, addr)
			log.Info("registered verifier deployment", map[string]interface{}{
				"network":    networkName,
				"circuit_id": circuitID,
				"chain_id":   net.ChainID,
				"address":    addr,
			})
		}
	}

	core, err := buildCore(cfg, store, log)
	if err != nil {
		log.Error("failed to construct skill core", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	bus := eventbus.New()
	tasks := taskstore.New(store)
	taskWorker := &worker.Worker{Tasks: tasks, Core: core, Bus: bus, Logger: log}

	var settler *payment.SettlementWorker
	var paymentStore *payment.Store
	if cfg.Service.PaymentMode != config.PaymentModeDisabled {
		settler, paymentStore, err = buildSettlementWorker(cfg, store, log)
		if err != nil {
			log.Error("failed to construct settlement worker", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	discoveryAdapter := discovery.New(cfg, serverName, serverVersion)
	discoveryAdapter.Routes(router)

	restAdapter := &rest.Adapter{
		Sessions:        core.Sessions,
		Results:         core.Results,
		Verifier:        core,
		Facilitator:     facilitator.NewClient(cfg, 10*time.Second),
		KV:              store,
		Config:          cfg,
		Logger:          log,
		DefaultChain:    core.DefaultChainID,
		Network:         core.Network,
		PaymentRequired: core.PaymentRequired,
	}
	restAdapter.Routes(router)

	chatModel := buildChatModel(cfg)

	taskAdapter := &taskrpc.Adapter{
		Tasks:        tasks,
		Bus:          bus,
		Router:       &llmrouter.Router{Model: chatModel, Core: core},
		Logger:       log,
		PaymentStore: paymentStore,
		Network:      core.Network,
		PriceDisplay: core.PriceDisplay,
	}
	taskAdapter.Routes(router)

	chatAdapter := &chat.Adapter{
		Model:     chatModel,
		Core:      core,
		Sessions:  chatsessionstore.New(store, time.Duration(cfg.Service.SessionTTLSeconds)*time.Second),
		Logger:    log,
		ModelName: chatModelDefault,
	}
	chatAdapter.Routes(router)

	toolAdapter := toolrpc.New(core, log)
	mcpServer := server.NewMCPServer(serverName, serverVersion)
	toolAdapter.Register(mcpServer)
	httpMCP := server.NewStreamableHTTPServer(mcpServer)
	router.Mount("/mcp", httpMCP)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.HTTPPort),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	worker.Supervise(g, taskWorker, gctx)
	if settler != nil {
		payment.Supervise(g, settler, gctx)
	}

	g.Go(func() error {
		log.Info("listening", map[string]interface{}{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func logLevel(name string) logging.Level {
	switch name {
	case "DEBUG":
		return logging.DEBUG
	case "WARN":
		return logging.WARN
	case "ERROR":
		return logging.ERROR
	default:
		return logging.INFO
	}
}

func buildKVStore(url string) (kv.Store, func(), error) {
	if url == "memory" || url == "" {
		store := kv.NewMemoryStore(time.Minute)
		return store, func() {}, nil
	}
	store, err := kv.NewRedisStore(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", url, err)
	}
	return store, func() { _ = store.Close() }, nil
}

// buildCore wires every dependency Skill Core needs. The verifier resolver
// is keyed by (circuit_id, chain_id) and only ever returns a client for a
// deployment that circuits.VerifierAddress actually reports; no address is
// ever invented for a circuit/chain pair with no registered deployment.
func buildCore(cfg *config.Config, store kv.Store, log *logging.Logger) (*skills.Core, error) {
	var defaultChainID uint64
	var network string
	var priceDisplay, currency string
	for name, net := range cfg.Networks {
		if defaultChainID == 0 {
			defaultChainID = net.ChainID
			network = name
		}
	}
	if cfg.Service.PriceString != "" {
		priceDisplay = cfg.Service.PriceString
		currency = "USDC"
	}

	var transport *enclave.Transport
	if cfg.Service.TEEMode == config.TEEModeEnclaveHW {
		transport = enclave.New(cfg.Service.EnclaveSocketPath)
	}

	core := &skills.Core{
		Sessions:           sessionstore.New(store, time.Duration(cfg.Service.SessionTTLSeconds)*time.Second),
		Cache:              proofcache.NewWithTTL(store, proofCacheTTL),
		Results:            proofresult.New(store),
		Limiter:            ratelimit.New(store, rateLimitBudget, rateLimitWindow),
		Transport:          transport,
		Verifiers:          newVerifierResolver(cfg, log),
		ExternalBaseURL:    cfg.Service.BaseURL,
		PaymentRequired:    cfg.Service.PaymentMode != config.PaymentModeDisabled,
		AttestationEnabled: cfg.Service.AttestationEnabled,
		SessionTTL:         time.Duration(cfg.Service.SessionTTLSeconds) * time.Second,
		DefaultChainID:     defaultChainID,
		PriceDisplay:       priceDisplay,
		Currency:           currency,
		Network:            network,
	}
	return core, nil
}

// verifierClientCache lazily dials and caches a chainrpc.VerifierClient per
// (circuit_id, chain_id, address), since Core may resolve the same pair
// many times across requests.
type verifierClientCache struct {
	mu      sync.Mutex
	clients map[string]skills.VerifierClient
	rpcURLs map[uint64]string
}

func newVerifierResolver(cfg *config.Config, log *logging.Logger) skills.VerifierResolver {
	rpcURLs := make(map[uint64]string, len(cfg.Networks))
	for _, net := range cfg.Networks {
		rpcURLs[net.ChainID] = net.RPCURL
	}
	cache := &verifierClientCache{clients: make(map[string]skills.VerifierClient), rpcURLs: rpcURLs}

	return func(circuitID string, chainID uint64) (skills.VerifierClient, error) {
		addr, ok := circuits.VerifierAddress(circuitID, chainID)
		if !ok {
			return nil, fmt.Errorf("no verifier deployment registered for circuit %s on chain %d", circuitID, chainID)
		}
		cacheKey := fmt.Sprintf("%s:%d:%s", circuitID, chainID, addr)

		cache.mu.Lock()
		defer cache.mu.Unlock()
		if client, ok := cache.clients[cacheKey]; ok {
			return client, nil
		}

		rpcURL, ok := cache.rpcURLs[chainID]
		if !ok {
			return nil, fmt.Errorf("no rpc url configured for chain %d", chainID)
		}
		client, err := chainrpc.NewVerifierClient(rpcURL, common.HexToAddress(addr))
		if err != nil {
			log.Error("failed to dial verifier contract", map[string]interface{}{
				"circuit_id": circuitID, "chain_id": chainID, "error": err.Error(),
			})
			return nil, err
		}
		cache.clients[cacheKey] = client
		return client, nil
	}
}

// buildSettlementWorker constructs the Payment Store shared by the task
// adapters (which create pending records) and the worker that settles them.
func buildSettlementWorker(cfg *config.Config, store kv.Store, log *logging.Logger) (*payment.SettlementWorker, *payment.Store, error) {
	var net config.NetworkConfig
	var found bool
	for _, n := range cfg.Networks {
		net = n
		found = true
		break
	}
	if !found {
		return nil, nil, fmt.Errorf("at least one network must be configured to settle payments")
	}

	transferer, err := payment.NewERC20Transferer(net.RPCURL, net.USDCContract, cfg.Service.OperatorKey, new(big.Int).SetUint64(net.ChainID))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to construct settlement transferer: %w", err)
	}

	paymentStore := payment.New(store)
	worker := payment.NewSettlementWorker(paymentStore, store, transferer, common.HexToAddress(net.PayeeAddress), settlementPoll, log)
	return worker, paymentStore, nil
}

func buildChatModel(cfg *config.Config) llmrouter.ChatModel {
	return llmrouter.NewOpenAIChatModel(cfg.LLM.OpenAIAPIKey, "", chatModelDefault, 30*time.Second)
}
