package monitor

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"remit-settlement-go/internal/chain"
	"remit-settlement-go/internal/models"
	"remit-settlement-go/internal/store"
)

// scenarioNode is a stubNode with enough balance behavior to drive the
// executor as well as the monitor.
type scenarioNode struct {
	stubNode
}

func (n *scenarioNode) ValidateAddress(address string) bool {
	return len(address) == 42 && address[:2] == "0x"
}

func (n *scenarioNode) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return decimal.RequireFromString("1.0"), nil
}

func (n *scenarioNode) TokenBalance(ctx context.Context, address, currency string) (decimal.Decimal, error) {
	return decimal.RequireFromString("150"), nil
}

func (n *scenarioNode) EstimateFee(ctx context.Context, params chain.BroadcastParams) (decimal.Decimal, error) {
	return decimal.RequireFromString("0.002"), nil
}

func (n *scenarioNode) BroadcastTransfer(ctx context.Context, params chain.BroadcastParams) (string, error) {
	return "0xscenario", nil
}

// A 100 USDT withdrawal against a 150 USDT wallet: broadcast leaves a
// pending transfer, and once the transaction sits 19 blocks deep the monitor
// confirms it and completes the owning ledger transaction.
func TestWithdrawalConfirmsEndToEnd(t *testing.T) {
	node := &scenarioNode{}
	transfers := newMemTransferStore()
	ledger := newMemLedger()
	publisher := &capturingPublisher{}

	network := models.NetworkConfig{
		Name:                  "ethereum-mainnet",
		NativeCurrency:        "ETH",
		RequiredConfirmations: 12,
		MinTransferUnit:       decimal.RequireFromString("0.000001"),
		AssetDecimals:         map[string]int32{"USDT": 6, "ETH": 18},
		TokenContracts:        map[string]string{"USDT": "0xdac17f958d2ee523a2206206994597c13d831ec7"},
		GasFeeFallback:        decimal.RequireFromString("0.01"),
		GasBufferPercent:      15,
	}

	executor := chain.NewExecutor(chain.ExecutorConfig{
		Node:        node,
		Transfers:   transfers,
		Network:     network,
		FromAddress: "0x1111111111111111111111111111111111111111",
	})

	result, err := executor.ExecuteTransferWithLock(context.Background(), "tx-usdt-100",
		"0x2222222222222222222222222222222222222222", decimal.RequireFromString("100"),
		chain.TransferOptions{Currency: "USDT", WalletId: "wallet-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TxHash != "0xscenario" {
		t.Fatalf("unexpected tx hash %q", result.TxHash)
	}

	pending := transfers.get("tx-usdt-100")
	if pending.Status != models.TransferStatusPending {
		t.Fatalf("expected PENDING after broadcast, got %s", pending.Status)
	}

	// Mined at block 100, head at 118: 19 confirmations.
	node.receipts = map[string]*chain.Receipt{
		"0xscenario": {TxHash: "0xscenario", BlockNumber: 100, Success: true},
	}
	node.head = 118

	m := NewMonitor(Config{
		Node:      node,
		Transfers: transfers,
		Ledger:    ledger,
		Publisher: publisher,
		Network:   network,
	})
	if _, err := m.CheckPendingTransfers(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	confirmed := transfers.get("tx-usdt-100")
	if confirmed.Status != models.TransferStatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", confirmed.Status)
	}
	if confirmed.Confirmations != 19 {
		t.Errorf("expected 19 confirmations, got %d", confirmed.Confirmations)
	}

	update, ok := ledger.statuses["tx-usdt-100"]
	if !ok {
		t.Fatal("expected ledger transaction status update")
	}
	if update.Status != store.TxStatusCompleted {
		t.Errorf("expected ledger status completed, got %s", update.Status)
	}

	if got := publisher.byStatus("CONFIRMED"); len(got) != 1 {
		t.Errorf("expected one CONFIRMED event, got %d", len(got))
	}
}
