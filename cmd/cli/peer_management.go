package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"swarmnode/internal/identity"
)

// -----------------------------------------------------------------------------
// peer_management.go – per-peer lifecycle/ban/score commands
// -----------------------------------------------------------------------------
// Commands:
//   ~peer ~state   <overlay-hex>
//   ~peer ~score   <overlay-hex>
//   ~peer ~ban     <overlay-hex> [--long]
// -----------------------------------------------------------------------------

func peerInit(cmd *cobra.Command, args []string) error {
	return netInit(cmd, args)
}

func parseOverlayArg(s string) (identity.OverlayAddress, error) {
	var o identity.OverlayAddress
	if len(s) != len(o)*2 {
		return o, fmt.Errorf("overlay must be %d hex chars, got %d", len(o)*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return o, fmt.Errorf("invalid overlay hex: %w", err)
	}
	copy(o[:], b)
	return o, nil
}

func peerState(cmd *cobra.Command, args []string) error {
	netMu.RLock()
	n := netNode
	netMu.RUnlock()
	if n == nil {
		return fmt.Errorf("network not running")
	}
	overlay, err := parseOverlayArg(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), n.PeerManager().State(overlay))
	return nil
}

func peerScore(cmd *cobra.Command, args []string) error {
	netMu.RLock()
	n := netNode
	netMu.RUnlock()
	if n == nil {
		return fmt.Errorf("network not running")
	}
	overlay, err := parseOverlayArg(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%.4f\n", n.PeerManager().Score(overlay))
	return nil
}

func peerBan(cmd *cobra.Command, args []string) error {
	netMu.RLock()
	n := netNode
	netMu.RUnlock()
	if n == nil {
		return fmt.Errorf("network not running")
	}
	overlay, err := parseOverlayArg(args[0])
	if err != nil {
		return err
	}
	long, _ := cmd.Flags().GetBool("long")
	n.PeerManager().Ban(overlay, long)
	fmt.Fprintln(cmd.OutOrStdout(), "banned")
	return nil
}

var peerCmd = &cobra.Command{Use: "peer", Short: "Peer lifecycle inspection", PersistentPreRunE: peerInit}
var peerStateCmd = &cobra.Command{Use: "state <overlay-hex>", Short: "Show a peer's lifecycle state", Args: cobra.ExactArgs(1), RunE: peerState}
var peerScoreCmd = &cobra.Command{Use: "score <overlay-hex>", Short: "Show a peer's weighted score", Args: cobra.ExactArgs(1), RunE: peerScore}
var peerBanCmd = &cobra.Command{Use: "ban <overlay-hex>", Short: "Ban a peer", Args: cobra.ExactArgs(1), RunE: peerBan}

func init() {
	peerBanCmd.Flags().Bool("long", false, "apply the long ban duration instead of the short one")
	peerCmd.AddCommand(peerStateCmd, peerScoreCmd, peerBanCmd)
}

var PeerCmd = peerCmd

// RegisterPeer adds the peer commands to the root CLI.
func RegisterPeer(root *cobra.Command) { root.AddCommand(PeerCmd) }
