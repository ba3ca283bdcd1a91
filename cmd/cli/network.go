package cli

// -----------------------------------------------------------------------------
// network.go – swarm node CLI (collision-free)
// -----------------------------------------------------------------------------
// Commands after RegisterNetwork(root):
//   ~network ~start      – boot node
//   ~network ~stop       – shutdown
//   ~network ~peers      – list peers
//   ~network ~topology   – print proximity-order bin sizes
// -----------------------------------------------------------------------------

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"swarmnode/internal/accounting"
	"swarmnode/internal/chunkstore"
	"swarmnode/internal/identity"
	"swarmnode/internal/keystore"
	"swarmnode/internal/peermanager"
	"swarmnode/internal/settlement"
	"swarmnode/internal/swarmnode"
	pkgconfig "swarmnode/pkg/config"
	"swarmnode/pkg/utils"
)

// -----------------------------------------------------------------------------
// Globals & once-init
// -----------------------------------------------------------------------------

var (
	netNode      *swarmnode.Node
	netMu        sync.RWMutex
	netStartTime time.Time
)

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func netInit(cmd *cobra.Command, _ []string) error {
	netMu.RLock()
	already := netNode != nil
	netMu.RUnlock()
	if already {
		return nil
	}
	_ = godotenv.Load()

	cfg, err := pkgconfig.LoadFromEnv()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = &pkgconfig.AppConfig
	}

	lv, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		lv = logrus.InfoLevel
	}
	logrus.SetLevel(lv)

	if cfg.Network.NetworkID == 0 {
		cfg.Network.NetworkID = 1
	}
	if cfg.Network.ListenAddr == "" {
		cfg.Network.ListenAddr = "/ip4/0.0.0.0/tcp/4001"
	}
	if cfg.Network.DiscoveryTag == "" {
		cfg.Network.DiscoveryTag = "swarmnode"
	}

	id, err := loadOrCreateIdentity(cfg)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	nodeCfg := swarmnode.Config{
		ListenAddr:        cfg.Network.ListenAddr,
		BootstrapPeers:    cfg.Network.BootstrapPeers,
		DiscoveryTag:      cfg.Network.DiscoveryTag,
		NetworkID:         cfg.Network.NetworkID,
		Identity:          id,
		Welcome:           cfg.Network.Welcome,
		BasePriceAU:       cfg.Accounting.BasePriceAU,
		MaxPO:             cfg.Topology.MaxPO,
		SaturationTarget:  cfg.Topology.SaturationTarget,
		AccountingConfig:  accountingConfig(cfg),
		PeerManagerConfig: peermanager.Config{},
		ChunkStore:        chunkstore.NewMemory(),
		ChunkSink:         chunkstore.NewMemory(),
	}

	n, err := swarmnode.NewNode(nodeCfg)
	if err != nil {
		return err
	}
	netMu.Lock()
	netNode = n
	netMu.Unlock()
	return nil
}

// loadOrCreateIdentity reads an ECDSA private key from the configured
// path, generating and persisting a fresh one on first run. If
// SWARMNODE_KEY_PASSPHRASE is set, the key file is sealed at rest with
// XChaCha20-Poly1305 instead of stored as the go-ethereum plaintext PEM.
func loadOrCreateIdentity(cfg *pkgconfig.Config) (*identity.Identity, error) {
	keyPath := utils.EnvOrDefault("SWARMNODE_KEY_FILE", "swarmnode.key")
	passphrase := utils.EnvOrDefault("SWARMNODE_KEY_PASSPHRASE", "")

	key, err := loadECDSAKey(keyPath, passphrase)
	if err != nil {
		key, err = crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		if err := saveECDSAKey(keyPath, key, passphrase); err != nil {
			return nil, fmt.Errorf("persist key: %w", err)
		}
	}

	ethAddr := crypto.PubkeyToAddress(key.PublicKey)
	nonce := ethAddr.Bytes()
	kind := identity.Client
	if cfg.Network.NodeKind == "storer" {
		kind = identity.Storer
	} else if cfg.Network.NodeKind == "bootnode" {
		kind = identity.Bootnode
	}
	sign := func(digest []byte) ([]byte, error) { return crypto.Sign(digest, key) }
	return identity.New(ethAddr, nonce, cfg.Network.NetworkID, kind, sign), nil
}

func loadECDSAKey(path, passphrase string) (*ecdsa.PrivateKey, error) {
	if passphrase == "" {
		return crypto.LoadECDSA(path)
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := keystore.Open(passphraseKey(passphrase), blob, []byte(path))
	if err != nil {
		return nil, fmt.Errorf("decrypt key file: %w", err)
	}
	return crypto.ToECDSA(raw)
}

func saveECDSAKey(path string, key *ecdsa.PrivateKey, passphrase string) error {
	if passphrase == "" {
		return crypto.SaveECDSA(path, key)
	}
	sealed, err := keystore.Seal(passphraseKey(passphrase), crypto.FromECDSA(key), []byte(path))
	if err != nil {
		return fmt.Errorf("encrypt key file: %w", err)
	}
	return os.WriteFile(path, sealed, 0o600)
}

// passphraseKey derives a 32-byte XChaCha20-Poly1305 key from an
// operator-supplied passphrase.
func passphraseKey(passphrase string) []byte {
	return crypto.Keccak256([]byte(passphrase))
}

// accountingConfig wires settlement.Pseudosettle as the default provider so
// a freshly started node can actually settle without configuring a swap
// chequebook.
func accountingConfig(cfg *pkgconfig.Config) accounting.Config {
	return accounting.Config{
		DisconnectTolerancePercent: cfg.Accounting.DisconnectToleranceP,
		EarlyPaymentPercent:        cfg.Accounting.EarlyPaymentPercent,
		OurPaymentThresholdAU:      cfg.Accounting.PaymentThresholdAU,
		NewProvider: func(_ identity.OverlayAddress, fullNode bool) settlement.Provider {
			return settlement.NewPseudosettle(fullNode, time.Now())
		},
	}
}

// -----------------------------------------------------------------------------
// Controllers
// -----------------------------------------------------------------------------

func netStart(cmd *cobra.Command, _ []string) error {
	netMu.RLock()
	n := netNode
	netMu.RUnlock()
	if n == nil {
		return fmt.Errorf("not initialised")
	}
	netStartTime = time.Now()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		_ = n.Close()
		os.Exit(0)
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "node started, overlay %s\n", n.Overlay())
	return nil
}

func netStop(cmd *cobra.Command, _ []string) error {
	netMu.RLock()
	n := netNode
	netMu.RUnlock()
	if n == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "not running")
		return nil
	}
	_ = n.Close()
	netMu.Lock()
	netNode = nil
	netMu.Unlock()
	fmt.Fprintln(cmd.OutOrStdout(), "stopped")
	return nil
}

func netPeers(cmd *cobra.Command, _ []string) error {
	netMu.RLock()
	n := netNode
	netMu.RUnlock()
	if n == nil {
		return fmt.Errorf("not running")
	}
	for _, overlay := range n.Topology().Neighbors() {
		state := n.PeerManager().State(overlay)
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", overlay, state)
	}
	return nil
}

func netTopology(cmd *cobra.Command, _ []string) error {
	netMu.RLock()
	n := netNode
	netMu.RUnlock()
	if n == nil {
		return fmt.Errorf("not running")
	}
	known, connected := n.Topology().BinSizes()
	fmt.Fprintf(cmd.OutOrStdout(), "po\tknown\tconnected\n")
	for po := range known {
		if known[po] == 0 && connected[po] == 0 {
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%d\t%d\n", po, known[po], connected[po])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "depth %d\n", n.Topology().Depth())
	return nil
}

// -----------------------------------------------------------------------------
// Cobra tree (all net-prefixed vars)
// -----------------------------------------------------------------------------

var netRootCmd = &cobra.Command{Use: "network", Short: "Swarm networking", PersistentPreRunE: netInit}

var netStartCmd = &cobra.Command{Use: "start", Short: "Start node", Args: cobra.NoArgs, RunE: netStart}
var netStopCmd = &cobra.Command{Use: "stop", Short: "Stop node", Args: cobra.NoArgs, RunE: netStop}
var netPeersCmd = &cobra.Command{Use: "peers", Short: "List connected peers", Args: cobra.NoArgs, RunE: netPeers}
var netTopologyCmd = &cobra.Command{Use: "topology", Short: "Print proximity bin sizes", Args: cobra.NoArgs, RunE: netTopology}

func init() {
	netRootCmd.AddCommand(netStartCmd, netStopCmd, netPeersCmd, netTopologyCmd)
}

// -----------------------------------------------------------------------------
// Export
// -----------------------------------------------------------------------------

// NetworkCmd exposes swarm networking commands.
var NetworkCmd = netRootCmd

// RegisterNetwork adds the networking commands to the root CLI.
func RegisterNetwork(root *cobra.Command) { root.AddCommand(NetworkCmd) }
