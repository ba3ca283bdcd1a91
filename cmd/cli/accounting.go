package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// -----------------------------------------------------------------------------
// accounting.go – per-peer balance/settlement commands
// -----------------------------------------------------------------------------
// Commands:
//   ~accounting ~balance  <overlay-hex>
//   ~accounting ~settle   <overlay-hex>
// -----------------------------------------------------------------------------

func acctInit(cmd *cobra.Command, args []string) error {
	return netInit(cmd, args)
}

func acctBalance(cmd *cobra.Command, args []string) error {
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
	handle, err := n.Accounting().Handle(overlay)
	if err != nil {
		return err
	}
	balanceAU, reservedCreditAU, reservedDebitAU := handle.Snapshot()
	fmt.Fprintf(cmd.OutOrStdout(), "balance=%d reserved_credit=%d reserved_debit=%d\n",
		balanceAU, reservedCreditAU, reservedDebitAU)
	return nil
}

func acctSettle(cmd *cobra.Command, args []string) error {
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
	handle, err := n.Accounting().Handle(overlay)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	settledAU, err := handle.Settle(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "settled %d AU\n", settledAU)
	return nil
}

var acctCmd = &cobra.Command{Use: "accounting", Short: "Per-peer balance and settlement", PersistentPreRunE: acctInit}
var acctBalanceCmd = &cobra.Command{Use: "balance <overlay-hex>", Short: "Show a peer's balance", Args: cobra.ExactArgs(1), RunE: acctBalance}
var acctSettleCmd = &cobra.Command{Use: "settle <overlay-hex>", Short: "Force settlement against a peer", Args: cobra.ExactArgs(1), RunE: acctSettle}

func init() {
	acctCmd.AddCommand(acctBalanceCmd, acctSettleCmd)
}

var AccountingCmd = acctCmd

// RegisterAccounting adds the accounting commands to the root CLI.
func RegisterAccounting(root *cobra.Command) { root.AddCommand(AccountingCmd) }
