package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"school-payments/internal/config"
	"school-payments/internal/database"
	"school-payments/internal/domain"
	"school-payments/internal/infrastructure/payment"
	"school-payments/internal/infrastructure/signing"
	"school-payments/internal/logger"
	"school-payments/internal/repo"
	"school-payments/internal/service"
	"school-payments/internal/worker"

	"github.com/spf13/cobra"
)

type stores struct {
	tx       database.Transactor
	orders   repo.OrderRepo
	statuses repo.StatusRepo
	webhooks repo.WebhookRepo
}

var (
	useMemory bool
	count     int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive payments through a flaky simulated gateway and reconcile them",
		Long: `Creates payments against a simulated gateway that sometimes times out,
delivers callbacks that are lost, duplicated or out of order, compares the
gateway and database views, and finishes with one reconciliation sweep.

Examples:
  simulate --memory
  simulate -n 50`,
		Args: cobra.NoArgs,
		RunE: runSimulation,
	}
	rootCmd.Flags().BoolVar(&useMemory, "memory", false, "use in-memory stores instead of Postgres")
	rootCmd.Flags().IntVarP(&count, "count", "n", 20, "number of payments to simulate")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSimulation(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	zl, err := logger.New("development")
	if err != nil {
		return err
	}
	defer zl.Sync()

	st, err := openStores(ctx, useMemory)
	if err != nil {
		return err
	}

	gateway := payment.NewMockGateway(20, 70, 50*time.Millisecond)
	svc := service.NewPaymentService(st.tx, st.orders, st.statuses, st.webhooks, gateway,
		signing.NewSigner("simulation-secret"),
		service.Options{GatewayName: "mock", DefaultTrusteeID: "sim-trustee"},
		zl,
	)

	fmt.Printf("--- STARTING SIMULATION (%d PAYMENTS) ---\n", count)
	for i := 0; i < count; i++ {
		// 1. Create (the gateway may "time out" and hand back a fallback)
		res, err := svc.CreatePayment(ctx, service.CreatePaymentInput{
			SchoolID:    fmt.Sprintf("school-%d", i%3),
			Amount:      float64(100 + rand.IntN(900)),
			CallbackURL: "https://school.local/callback",
		})
		if err != nil {
			fmt.Printf("[%d] Create FAILED: %v\n", i+1, err)
			continue
		}
		fmt.Printf("[%d] Order %s collect=%s degraded=%v\n", i+1, res.OrderID, res.CollectRequestID, res.Degraded)

		// 2. Gateway settles the payment and notifies us (sometimes never, sometimes twice, sometimes out of order)
		outcome, ok := gateway.Settle(res.CollectRequestID)
		switch {
		case !ok:
			fmt.Println("    -> phantom request: gateway knows an id we never received")
		case i%4 == 0:
			fmt.Println("    -> callback lost, left for the reconciliation sweep")
		default:
			deliver(ctx, svc, res.CollectRequestID, outcome)
			if i%3 == 0 {
				deliver(ctx, svc, res.CollectRequestID, outcome)
			}
			if i%5 == 1 {
				deliver(ctx, svc, res.CollectRequestID, domain.PaymentPending)
			}
		}

		// 3. Compare the two views
		report, err := svc.CheckStatus(ctx, fmt.Sprintf("school-%d", i%3), res.OrderID.String())
		if err != nil {
			fmt.Printf("    -> CheckStatus FAILED: %v\n", err)
			continue
		}
		dbStatus := "<none>"
		if report.DBStatus != nil {
			dbStatus = string(report.DBStatus.Status)
		}
		fmt.Printf("    -> Gateway: %s (%s) | DB: %s\n", report.GatewayStatus.Status, report.GatewayStatus.Source, dbStatus)
		fmt.Println("---------------------------------------------------")
	}

	rw := worker.NewReconciliationWorker(st.orders, st.statuses, gateway, worker.Options{RPS: 20}, zl)
	sweep, err := rw.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation sweep: %w", err)
	}
	fmt.Printf("--- SWEEP: checked=%d updated=%d skipped=%d conflict=%d ---\n",
		sweep.Checked, sweep.Updated, sweep.Skipped, sweep.Conflict)
	return nil
}

func deliver(ctx context.Context, svc service.PaymentService, collectRequestID string, status domain.PaymentStatus) {
	mode := "upi"
	ref := "BANK-" + collectRequestID[:8]
	payload := domain.CallbackPayload{
		PaymentStatus:    status,
		CollectRequestID: collectRequestID,
		PaymentMode:      &mode,
		BankReference:    &ref,
	}
	raw, _ := json.Marshal(payload)
	res, err := svc.HandleCallback(ctx, payload, raw)
	if err != nil {
		fmt.Printf("    -> callback %s rejected: %v\n", status, err)
		return
	}
	fmt.Printf("    -> callback %s updated=%v\n", status, res.Updated)
}

func openStores(ctx context.Context, memory bool) (*stores, error) {
	if memory {
		m := repo.NewMemoryStore()
		return &stores{tx: database.NoTx{}, orders: m, statuses: m, webhooks: m}, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	db, err := database.Open(ctx, cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		return nil, err
	}
	fmt.Println("using postgres stores")
	return &stores{
		tx:       database.NewTransactor(db),
		orders:   repo.NewOrderRepo(db),
		statuses: repo.NewStatusRepo(db),
		webhooks: repo.NewWebhookRepo(db),
	}, nil
}
