// Package config holds the validated configuration record for the swap core:
// six groups (data, network, bitcoin, monero, tor, maker), per-network
// defaults, and strict YAML loading/saving.
package config

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NetworkType selects which chain-network defaults apply.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// FileName is the default config file name within data.dir.
const FileName = "config.yaml"

// Config is the root configuration record, matching spec §4.5's six groups.
type Config struct {
	Network NetworkType `yaml:"network_type"`

	Data    DataConfig    `yaml:"data"`
	P2P     P2PConfig     `yaml:"network"`
	Bitcoin BitcoinConfig `yaml:"bitcoin"`
	Monero  MoneroConfig  `yaml:"monero"`
	Tor     TorConfig     `yaml:"tor"`
	Maker   MakerConfig   `yaml:"maker"`
}

// DataConfig is the "data" group: the on-disk directory.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// P2PConfig is the "network" group: listen multiaddrs for the swap swarm,
// plus the libp2p transport knobs the teacher's node package exposes
// (peer discovery, NAT traversal, connection manager watermarks).
type P2PConfig struct {
	ListenAddrs    []string `yaml:"listen_addrs"`
	BootstrapPeers []string `yaml:"bootstrap_peers,omitempty"`

	EnableMDNS         bool `yaml:"enable_mdns"`
	EnableDHT          bool `yaml:"enable_dht"`
	EnableRelay        bool `yaml:"enable_relay"`
	EnableNAT          bool `yaml:"enable_nat"`
	EnableHolePunching bool `yaml:"enable_hole_punching"`

	ConnMgr ConnMgrConfig `yaml:"conn_mgr"`
}

// ConnMgrConfig holds libp2p connection manager watermarks.
type ConnMgrConfig struct {
	LowWater    int           `yaml:"low_water"`
	HighWater   int           `yaml:"high_water"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// BitcoinConfig is the "bitcoin" group.
type BitcoinConfig struct {
	ElectrumURL            string `yaml:"electrum_url"`
	ConfirmationTarget     uint32 `yaml:"confirmation_target"`
	FinalityConfirmations  uint32 `yaml:"finality_confirmations,omitempty"`
	NetworkTag             string `yaml:"network_tag"`
	PunishSafetyMarginBlks uint32 `yaml:"punish_safety_margin,omitempty"`
}

// MoneroConfig is the "monero" group.
type MoneroConfig struct {
	WalletRPCURL          string `yaml:"wallet_rpc_url"`
	FinalityConfirmations uint32 `yaml:"finality_confirmations,omitempty"`
	NetworkTag            string `yaml:"network_tag"`
}

// TorConfig is the "tor" group.
type TorConfig struct {
	ControlPort int `yaml:"control_port"`
	Socks5Port  int `yaml:"socks5_port"`
}

// MakerConfig is the "maker" group: quoting policy for the Alice role.
type MakerConfig struct {
	MinBuyBTC        float64 `yaml:"min_buy_btc"`
	MaxBuyBTC        float64 `yaml:"max_buy_btc"`
	AskSpread        float64 `yaml:"ask_spread"`
	PriceTickerWSURL string  `yaml:"price_ticker_ws_url"`
}

// defaultPunishSafetyMargin is applied when bitcoin.punish_safety_margin is
// left unset; see SPEC_FULL.md §C "Punish-path safety margin".
const defaultPunishSafetyMargin = 1

// Default returns the per-network default configuration.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return &Config{
			Network: Testnet,
			Data:    DataConfig{Dir: "~/.xmrbtc-swap/testnet"},
			P2P: P2PConfig{
				ListenAddrs: []string{
					"/ip4/0.0.0.0/tcp/9940",
					"/ip4/0.0.0.0/udp/9940/quic-v1",
				},
				EnableMDNS:         true,
				EnableDHT:          true,
				EnableRelay:        true,
				EnableNAT:          true,
				EnableHolePunching: true,
				ConnMgr: ConnMgrConfig{
					LowWater:    50,
					HighWater:   200,
					GracePeriod: time.Minute,
				},
			},
			Bitcoin: BitcoinConfig{
				ElectrumURL:            "ssl://electrum.blockstream.info:60002",
				ConfirmationTarget:     1,
				FinalityConfirmations:  1,
				NetworkTag:             "testnet",
				PunishSafetyMarginBlks: defaultPunishSafetyMargin,
			},
			Monero: MoneroConfig{
				WalletRPCURL:          "http://127.0.0.1:38083/json_rpc",
				FinalityConfirmations: 5,
				NetworkTag:            "stagenet",
			},
			Tor: TorConfig{ControlPort: 9051, Socks5Port: 9050},
			Maker: MakerConfig{
				MinBuyBTC:        0.002,
				MaxBuyBTC:        0.02,
				AskSpread:        0.02,
				PriceTickerWSURL: "wss://ws.kraken.com",
			},
		}
	default:
		return &Config{
			Network: Mainnet,
			Data:    DataConfig{Dir: "~/.xmrbtc-swap/mainnet"},
			P2P: P2PConfig{
				ListenAddrs: []string{
					"/ip4/0.0.0.0/tcp/9939",
					"/ip4/0.0.0.0/udp/9939/quic-v1",
				},
				EnableMDNS:         true,
				EnableDHT:          true,
				EnableRelay:        true,
				EnableNAT:          true,
				EnableHolePunching: true,
				ConnMgr: ConnMgrConfig{
					LowWater:    100,
					HighWater:   400,
					GracePeriod: time.Minute,
				},
			},
			Bitcoin: BitcoinConfig{
				ElectrumURL:            "ssl://electrum.blockstream.info:50002",
				ConfirmationTarget:     3,
				FinalityConfirmations:  3,
				NetworkTag:             "mainnet",
				PunishSafetyMarginBlks: defaultPunishSafetyMargin,
			},
			Monero: MoneroConfig{
				WalletRPCURL:          "http://127.0.0.1:18083/json_rpc",
				FinalityConfirmations: 10,
				NetworkTag:            "mainnet",
			},
			Tor: TorConfig{ControlPort: 9051, Socks5Port: 9050},
			Maker: MakerConfig{
				MinBuyBTC:        0.002,
				MaxBuyBTC:        0.5,
				AskSpread:        0.02,
				PriceTickerWSURL: "wss://ws.kraken.com",
			},
		}
	}
}

// Validate enforces the boundaries named in spec §8: spread in [0,1] and
// min_buy <= max_buy, plus non-empty electrum URL, wallet RPC URL and data
// dir. T1 < T2 is not checked here (T1/T2 are per-swap, negotiated, not
// config), and the punish safety margin is not checked.
func (c *Config) Validate() error {
	if c.Maker.AskSpread < 0 || c.Maker.AskSpread > 1 {
		return fmt.Errorf("config: maker.ask_spread %v out of range [0, 1]", c.Maker.AskSpread)
	}
	if c.Maker.MinBuyBTC > c.Maker.MaxBuyBTC {
		return fmt.Errorf("config: maker.min_buy_btc %v exceeds maker.max_buy_btc %v", c.Maker.MinBuyBTC, c.Maker.MaxBuyBTC)
	}
	if c.Bitcoin.ElectrumURL == "" {
		return fmt.Errorf("config: bitcoin.electrum_url is required")
	}
	if c.Monero.WalletRPCURL == "" {
		return fmt.Errorf("config: monero.wallet_rpc_url is required")
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("config: data.dir is required")
	}
	return nil
}

// Path returns the config file path for a data directory.
func Path(dataDir string) string {
	return filepath.Join(expandPath(dataDir), FileName)
}

// Load reads and strictly validates a config file, rejecting unknown keys
// per spec §4.5 ("Validation rejects unknown fields strictly"). If the file
// is absent, the caller is expected to have run the first-run walkthrough
// (see Prompt) before calling Load again.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	return decodeStrict(f)
}

func decodeStrict(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# xmrbtc-swap configuration\n# generated on first run; edit or delete to regenerate\n\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	enc.Close()

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// LoadOrInit loads the config at dataDir's default path, writing and
// returning per-network defaults if absent.
func LoadOrInit(dataDir string, network NetworkType) (*Config, error) {
	path := Path(dataDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default(network)
		cfg.Data.Dir = dataDir
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

// Prompt runs the first-run interactive walkthrough described in spec §4.5:
// a short sequence of stdin prompts collecting overrides to the per-network
// defaults. Out of scope per spec.md §1 is the TUI itself; this is a minimal
// line-oriented prompt, not a full interface.
func Prompt(in io.Reader, out io.Writer, network NetworkType) (*Config, error) {
	cfg := Default(network)
	scanner := bufio.NewScanner(in)

	ask := func(label string, current *string) {
		fmt.Fprintf(out, "%s [%s]: ", label, *current)
		if scanner.Scan() {
			if line := scanner.Text(); line != "" {
				*current = line
			}
		}
	}

	ask("data directory", &cfg.Data.Dir)
	ask("electrum URL", &cfg.Bitcoin.ElectrumURL)
	ask("monero wallet RPC URL", &cfg.Monero.WalletRPCURL)
	ask("price ticker WS URL", &cfg.Maker.PriceTickerWSURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
