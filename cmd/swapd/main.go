// Package main provides swapd - the swap-core P2P node daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/libp2p/go-libp2p/core/peer"
	"filippo.io/edwards25519"

	"github.com/klingon-exchange/xmrbtc-swap/internal/chainwatch"
	"github.com/klingon-exchange/xmrbtc-swap/internal/config"
	"github.com/klingon-exchange/xmrbtc-swap/internal/cryptoprovider"
	"github.com/klingon-exchange/xmrbtc-swap/internal/node"
	"github.com/klingon-exchange/xmrbtc-swap/internal/p2pnet"
	"github.com/klingon-exchange/xmrbtc-swap/internal/priceticker"
	"github.com/klingon-exchange/xmrbtc-swap/internal/storage"
	"github.com/klingon-exchange/xmrbtc-swap/internal/swap"
	"github.com/klingon-exchange/xmrbtc-swap/internal/swapstate"
	"github.com/klingon-exchange/xmrbtc-swap/internal/walletrpc"
	"github.com/klingon-exchange/xmrbtc-swap/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir        = flag.String("data-dir", "~/.xmrbtc-swap", "Data directory")
		configFile     = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		listenAddr     = flag.String("listen", "", "Listen address (multiaddr), overrides config")
		enableMDNS     = flag.Bool("mdns", true, "Enable mDNS discovery")
		enableDHT      = flag.Bool("dht", true, "Enable DHT discovery")
		testnet        = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		bootstrapPeers = flag.String("bootstrap", "", "Bootstrap peers (comma-separated multiaddrs)")
		logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion    = flag.Bool("version", false, "Show version and exit")
		maker          = flag.Bool("maker", false, "Run as a maker: answer quote/spot_price and act as Alice in execution_setup")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("swapd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	network := config.Mainnet
	if *testnet {
		network = config.Testnet
	}

	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	var cfgPath string
	if *configFile != "" {
		cfgPath = *configFile
	} else {
		cfgPath = config.Path(effectiveDataDir)
	}

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.Load(cfgPath)
	} else {
		cfg, err = config.LoadOrInit(effectiveDataDir, network)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// CLI flags take precedence over the config file.
	if *listenAddr != "" {
		cfg.P2P.ListenAddrs = []string{*listenAddr}
	}
	cfg.P2P.EnableMDNS = *enableMDNS
	cfg.P2P.EnableDHT = *enableDHT
	cfg.Data.Dir = effectiveDataDir
	cfg.Network = network
	if *bootstrapPeers != "" {
		cfg.P2P.BootstrapPeers = parseBootstrapPeers(*bootstrapPeers)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid config", "error", err)
	}

	log.Info("Config loaded", "path", cfgPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataPath := expandPath(cfg.Data.Dir)
	store, err := storage.New(&storage.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", dataPath)

	log.Info("Starting swap node...")
	n, err := node.New(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to create node", "error", err)
	}

	peerStoreAdapter := node.NewPeerStoreAdapter(store)
	n.SetPeerStoreAdapter(peerStoreAdapter)

	if err := n.LoadPersistedPeers(); err != nil {
		log.Warn("Failed to load persisted peers", "error", err)
	}

	if err := n.SetupDirectMessaging(store); err != nil {
		log.Warn("Failed to setup direct messaging", "error", err)
	} else {
		log.Info("Direct P2P messaging initialized")
	}

	router := p2pnet.NewRouter(n, *maker)

	chainParams := chainParamsFor(network)
	bitcoinWatcher := newElectrumWatcher(cfg.Bitcoin.ElectrumURL)
	defer bitcoinWatcher.Close()
	moneroWallet := chainwatch.NewFakeMoneroWallet()
	log.Warn("Monero wallet adapter is a stub: no monero-wallet-rpc client is wired yet (internal/chainwatch is fake-only for Monero)")

	wallet := walletrpc.NewFakeBitcoinWallet(chainParams)
	log.Warn("Bitcoin signing wallet is a stub FakeBitcoinWallet: HD-derived key custody is an external wallet concern this module doesn't own")

	mgr := swap.NewManager(ctx, swap.ManagerDeps{
		Storage:                store,
		Bitcoin:                bitcoinWatcher,
		Monero:                 moneroWallet,
		Provider:               cryptoprovider.NewECDSAAdaptorProvider(),
		Router:                 router,
		Log:                    log,
		Wallet:                 wallet,
		FinalityConfirmations:  cfg.Bitcoin.FinalityConfirmations,
		PunishSafetyMarginBlks: cfg.Bitcoin.PunishSafetyMarginBlks,
		SetupTimeout:           30 * time.Second,
	})
	defer mgr.Close()

	if *maker {
		ticker := priceticker.NewKrakenTicker(cfg.Maker.PriceTickerWSURL, "XMR/XBT")
		go ticker.Run(ctx)
		quoter := swap.NewMakerQuoter(cfg.Maker, ticker)
		router.OnQuote(quoter.Quote)
		router.OnSpotPrice(quoter.SpotPrice)
		log.Info("Maker pricing active", "price_feed", cfg.Maker.PriceTickerWSURL)
	}

	if err := mgr.ResumeUnfinished(unavailableAliceKeys(log), unavailableBobKeys(log)); err != nil {
		log.Warn("Failed to resume unfinished swaps", "error", err)
	}

	if err := n.Start(); err != nil {
		log.Fatal("Failed to start node", "error", err)
	}

	printBanner(log, n, cfg)

	nodeLog := log.Component("p2p")
	n.OnPeerConnected(func(p peer.ID) {
		nodeLog.Info("Peer connected", "peer", shortID(p), "total", n.PeerCount())
	})
	n.OnPeerDisconnected(func(p peer.ID) {
		nodeLog.Info("Peer disconnected", "peer", shortID(p), "total", n.PeerCount())
	})

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info("Status", "peers", n.PeerCount(), "uptime", n.Uptime().Round(time.Second))
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	if err := n.SavePeerCache(); err != nil {
		log.Error("Error saving peer cache", "error", err)
	}

	cancel()

	if err := n.Stop(); err != nil {
		log.Error("Error during shutdown", "error", err)
	}

	log.Info("Goodbye!")
}

// chainParamsFor returns the btcec chain params matching a network.
func chainParamsFor(network config.NetworkType) *chaincfg.Params {
	if network == config.Testnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

// newElectrumWatcher builds a chainwatch.BitcoinWatcher from a config URL
// of the form "ssl://host:port" or "tcp://host:port".
func newElectrumWatcher(electrumURL string) *chainwatch.ElectrumWatcher {
	useTLS := true
	server := electrumURL
	if idx := strings.Index(electrumURL, "://"); idx >= 0 {
		scheme := electrumURL[:idx]
		server = electrumURL[idx+3:]
		useTLS = scheme != "tcp"
	}
	return chainwatch.NewElectrumWatcher([]string{server}, useTLS)
}

// unavailableAliceKeys and unavailableBobKeys satisfy Manager.ResumeUnfinished's
// key-recovery hooks until a real keystore is wired in: private-key custody
// is a wallet/HD-derivation concern this module intentionally doesn't own
// (see internal/walletrpc's scope note), so a resumed swap whose driver
// needs its signing key back logs the gap rather than silently losing
// funds to a fabricated key.
func unavailableAliceKeys(log *logging.Logger) swap.AliceKeyLookup {
	return func(id swapstate.ID) (*btcec.PrivateKey, *edwards25519.Scalar, error) {
		log.Error("cannot resume alice swap: no keystore wired to recover its signing key", "swap_id", id.String())
		return nil, nil, fmt.Errorf("swapd: key recovery not implemented for swap %s", id)
	}
}

func unavailableBobKeys(log *logging.Logger) swap.BobKeyLookup {
	return func(id swapstate.ID) (*btcec.PrivateKey, *edwards25519.Scalar, *wire.MsgTx, error) {
		log.Error("cannot resume bob swap: no keystore wired to recover its signing key", "swap_id", id.String())
		return nil, nil, nil, fmt.Errorf("swapd: key recovery not implemented for swap %s", id)
	}
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, n *node.Node, cfg *config.Config) {
	networkLabel := "mainnet"
	if cfg.Network == config.Testnet {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  xmrbtc-swap node (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Peer ID: %s", n.ID().String())
	log.Info("")
	log.Info("  Listening on:")
	for _, addr := range n.Addrs() {
		log.Infof("    %s/p2p/%s", addr.String(), n.ID().String())
	}
	log.Info("")
	log.Infof("  Network: %s | mDNS: %v | DHT: %v", networkLabel, cfg.P2P.EnableMDNS, cfg.P2P.EnableDHT)
	log.Infof("  Data dir: %s", expandPath(cfg.Data.Dir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}

func parseBootstrapPeers(s string) []string {
	if s == "" {
		return nil
	}
	var peers []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
