// The credits binary adjusts a company's credit balance from the command
// line: purchases, refunds, trial grants and manual corrections. Debits go
// through the same ledger path the dispatcher uses, so every adjustment
// lands in credit_transactions with a balance snapshot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/stayloop/guestops/internal/config"
	"github.com/stayloop/guestops/internal/ledger"
	"github.com/stayloop/guestops/pkg/logging"
)

func main() {
	var (
		companyFlag = flag.String("company", "", "company id (required)")
		amountFlag  = flag.Int64("amount", 0, "credits to add; negative debits")
		typeFlag    = flag.String("type", string(ledger.TxnPurchase),
			"transaction type: purchase, refund, trial_grant, manual_adjustment")
		refFlag = flag.String("ref", "", "optional reference id")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	companyID, err := uuid.Parse(*companyFlag)
	if err != nil {
		log.Fatalf("invalid -company: %v", err)
	}
	if *amountFlag == 0 {
		log.Fatal("-amount must be non-zero")
	}
	txnType := ledger.TxnType(*typeFlag)
	switch txnType {
	case ledger.TxnPurchase, ledger.TxnRefund, ledger.TxnTrialGrant, ledger.TxnManualAdjustment:
	default:
		log.Fatalf("invalid -type %q", *typeFlag)
	}
	referenceID := uuid.Nil
	if *refFlag != "" {
		if referenceID, err = uuid.Parse(*refFlag); err != nil {
			log.Fatalf("invalid -ref: %v", err)
		}
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	l := ledger.New(pool, logger)
	var txn ledger.Transaction
	if *amountFlag > 0 {
		txn, err = l.Credit(ctx, companyID, *amountFlag, txnType, referenceID)
	} else {
		txn, err = l.Debit(ctx, companyID, -*amountFlag, txnType, referenceID)
	}
	if err != nil {
		log.Fatalf("apply transaction: %v", err)
	}

	fmt.Printf("txn %s: company %s %+d credits (%s), balance now %d\n",
		txn.ID, companyID, *amountFlag, txnType, txn.BalanceAfter)
	os.Exit(0)
}
