// provisiond is the trading-account provisioning daemon. It drives a
// connected wallet to trading readiness (smart-wallet deploy, exchange
// approvals, credentials) and exposes status over HTTP and WebSocket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BadGenius22/rekon/pkg/chain"
	"github.com/BadGenius22/rekon/pkg/clob"
	"github.com/BadGenius22/rekon/pkg/config"
	"github.com/BadGenius22/rekon/pkg/creds"
	"github.com/BadGenius22/rekon/pkg/eth"
	"github.com/BadGenius22/rekon/pkg/provision"
	"github.com/BadGenius22/rekon/pkg/relay"
	"github.com/BadGenius22/rekon/pkg/safewallet"
	"github.com/BadGenius22/rekon/pkg/stream"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to YAML config file")
	privateKey = flag.String("key", "", "Wallet private key (or REKON_PRIVATE_KEY env)")
)

func main() {
	flag.Parse()

	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("daemon exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rpc, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer rpc.Close()

	d, err := newDaemon(cfg, rpc, log)
	if err != nil {
		return err
	}
	go d.hub.Run()

	// Connect the configured wallet and kick off provisioning in the
	// background; the HTTP surface reports progress as it happens.
	key := *privateKey
	if key == "" {
		key = os.Getenv("REKON_PRIVATE_KEY")
	}
	if key != "" {
		wallet, err := eth.NewWallet(key)
		if err != nil {
			return fmt.Errorf("parse private key: %w", err)
		}
		d.prov.Connect(provision.Session{
			EOA:    wallet.Address(),
			Signer: eth.NewSigner(wallet),
		})
		go func() {
			if err := d.prov.Run(ctx); err != nil {
				log.Warn("initial provisioning run failed", zap.Error(err))
			}
		}()
	} else {
		log.Info("no private key configured, waiting for session via API")
	}

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: d.routes(),
	}
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", zap.Error(err))
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

type daemon struct {
	cfg     *config.Config
	log     *zap.Logger
	reader  *chain.Reader
	prov    *provision.Provisioner
	hub     *stream.Hub
	metrics *provision.Metrics
}

func newDaemon(cfg *config.Config, rpc *ethclient.Client, log *zap.Logger) (*daemon, error) {
	d := &daemon{
		cfg:     cfg,
		log:     log,
		hub:     stream.NewHub(log.Named("stream")),
		metrics: provision.NewMetrics(),
	}

	d.reader = chain.NewReader(rpc, chain.DefaultApprovalTargets())

	relayOpts := []relay.Option{relay.WithLogger(log.Named("relay"))}
	if cfg.Relay.BaseURL != "" {
		relayOpts = append(relayOpts, relay.WithBaseURL(cfg.Relay.BaseURL))
	}
	if cfg.Relay.PollInterval > 0 {
		relayOpts = append(relayOpts, relay.WithPollInterval(cfg.Relay.PollInterval))
	}
	relayer := relay.NewClient(cfg.Relay.APIKey, relayOpts...)

	storePath := cfg.Clob.CredentialsPath
	if storePath == "" {
		p, err := creds.DefaultStorePath()
		if err != nil {
			return nil, fmt.Errorf("credential store path: %w", err)
		}
		storePath = p
	}
	store := creds.NewStore(storePath)

	factory, err := factoryConfig(cfg.Factory)
	if err != nil {
		return nil, err
	}

	sc := clob.SignerContext{
		ChainID:             cfg.Chain.ChainID,
		BaseURL:             cfg.Clob.BaseURL,
		BuilderSignEndpoint: cfg.Clob.BuilderSignEndpoint,
	}

	newClient := func(safe common.Address, credential *creds.Credentials, signer clob.Signer) *clob.Client {
		c := sc
		c.Signer = signer
		return clob.NewTradingClient(safe, credential, c)
	}

	// The broker issues credentials through a bare client: L1 auth needs
	// only the signer, and the issued credentials are adopted by the
	// trading client built afterwards.
	issuerFor := func(signer clob.Signer) creds.Issuer {
		opts := []clob.Option{clob.WithChainID(cfg.Chain.ChainID)}
		if cfg.Clob.BaseURL != "" {
			opts = append(opts, clob.WithBaseURL(cfg.Clob.BaseURL))
		}
		return clob.NewClient(signer, opts...)
	}

	broker := &sessionBroker{
		store:     store,
		issuerFor: issuerFor,
		log:       log.Named("creds"),
		signer:    func() clob.Signer { return d.prov.SessionSigner() },
	}

	d.prov = provision.NewProvisioner(
		d.reader,
		relayer,
		broker,
		newClient,
		provision.WithLogger(log.Named("provision")),
		provision.WithMetrics(d.metrics),
		provision.WithFactoryConfig(factory),
		provision.WithOnChange(d.hub.BroadcastStatus),
	)
	return d, nil
}

// sessionBroker defers issuer construction until credentials are actually
// needed: L1 auth signs with whatever wallet is connected at that moment.
type sessionBroker struct {
	store     *creds.Store
	issuerFor func(clob.Signer) creds.Issuer
	log       *zap.Logger
	signer    func() clob.Signer
}

func (b *sessionBroker) Cached(eoa string) (*creds.Credentials, bool) {
	return creds.NewBroker(b.store, nil, b.log).Cached(eoa)
}

func (b *sessionBroker) GetOrCreate(ctx context.Context, eoa string, skipDerive bool) (*creds.Credentials, error) {
	signer := b.signer()
	if signer == nil {
		return nil, fmt.Errorf("no wallet session")
	}
	broker := creds.NewBroker(b.store, b.issuerFor(signer), b.log)
	return broker.GetOrCreate(ctx, eoa, skipDerive)
}

func factoryConfig(fc config.FactoryConfig) (safewallet.FactoryConfig, error) {
	cfg := safewallet.DefaultFactoryConfig()
	if fc.Address != "" {
		if !common.IsHexAddress(fc.Address) {
			return cfg, fmt.Errorf("factory.address %q is not a valid address", fc.Address)
		}
		cfg.Factory = common.HexToAddress(fc.Address)
	}
	if fc.InitCodeHash != "" {
		cfg.InitCodeHash = common.HexToHash(fc.InitCodeHash)
	}
	return cfg, nil
}

func (d *daemon) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.prov.Snapshot())
	})

	mux.HandleFunc("/provision", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		go func() {
			if err := d.prov.Run(context.Background()); err != nil {
				d.log.Warn("provisioning run failed", zap.Error(err))
			}
		}()
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]string{"status": "started"})
	})

	mux.HandleFunc("/deploy", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		go func() {
			if err := d.prov.DeploySafe(context.Background()); err != nil {
				d.log.Warn("deploy failed", zap.Error(err))
			}
		}()
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]string{"status": "started"})
	})

	mux.HandleFunc("/balance", func(w http.ResponseWriter, r *http.Request) {
		snap := d.prov.Snapshot()
		if snap.SafeAddress == "" {
			http.Error(w, "no smart wallet derived yet", http.StatusConflict)
			return
		}
		bal, err := d.reader.CollateralBalance(r.Context(), common.HexToAddress(snap.SafeAddress))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]string{
			"address": snap.SafeAddress,
			"balance": bal.String(),
		})
	})

	mux.Handle("/metrics", promhttp.HandlerFor(d.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", d.hub.ServeWS)

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
