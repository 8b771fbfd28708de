package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/paylite/backend/internal/services"
)

// TransactionPayload is the job body for deposit, withdraw and transfer
// operations. ReceiverID is only meaningful for transfers.
type TransactionPayload struct {
	UserID     int64           `json:"userId"`
	ReceiverID int64           `json:"receiverId,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
}

// EnqueueTransaction queues a ledger mutation on the transaction queue
// and returns the job id. ReceiverID is ignored for non-transfers.
func (d *Dispatcher) EnqueueTransaction(ctx context.Context, operation string, userID, receiverID int64, amount decimal.Decimal) (string, error) {
	payload := TransactionPayload{UserID: userID, Amount: amount}
	if operation == OpTransfer {
		payload.ReceiverID = receiverID
	}

	job, err := d.Enqueue(ctx, QueueTransaction, operation, payload)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// TransactionProcessor adapts queued jobs into balance service calls.
// It holds no business logic: validation and mutation live in the
// balance service so the sync and async entry points share one set of
// invariants, and engine errors propagate untouched to fail the job.
type TransactionProcessor struct {
	balance *services.BalanceService
}

func NewTransactionProcessor(balance *services.BalanceService) *TransactionProcessor {
	return &TransactionProcessor{balance: balance}
}

// Register binds the three transaction operations on the dispatcher.
func (p *TransactionProcessor) Register(d *Dispatcher) {
	d.Register(OpDeposit, p.handleDeposit)
	d.Register(OpWithdraw, p.handleWithdraw)
	d.Register(OpTransfer, p.handleTransfer)
}

func (p *TransactionProcessor) handleDeposit(ctx context.Context, payload json.RawMessage) (any, error) {
	data, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	log.Printf("[PROCESSOR] Processing deposit: user=%d amount=%s", data.UserID, data.Amount)
	return p.balance.Deposit(ctx, data.UserID, data.Amount)
}

func (p *TransactionProcessor) handleWithdraw(ctx context.Context, payload json.RawMessage) (any, error) {
	data, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	log.Printf("[PROCESSOR] Processing withdrawal: user=%d amount=%s", data.UserID, data.Amount)
	return p.balance.Withdraw(ctx, data.UserID, data.Amount)
}

func (p *TransactionProcessor) handleTransfer(ctx context.Context, payload json.RawMessage) (any, error) {
	data, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	log.Printf("[PROCESSOR] Processing transfer: user=%d receiver=%d amount=%s",
		data.UserID, data.ReceiverID, data.Amount)
	return p.balance.Transfer(ctx, data.UserID, data.ReceiverID, data.Amount)
}

func decodePayload(payload json.RawMessage) (*TransactionPayload, error) {
	var data TransactionPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("invalid transaction payload: %w", err)
	}
	return &data, nil
}

// ReportProcessor runs queued report generation.
type ReportProcessor struct {
	reports *services.ReportService
}

func NewReportProcessor(reports *services.ReportService) *ReportProcessor {
	return &ReportProcessor{reports: reports}
}

func (p *ReportProcessor) Register(d *Dispatcher) {
	d.Register(OpDailyReport, p.handleDailyReport)
}

func (p *ReportProcessor) handleDailyReport(ctx context.Context, _ json.RawMessage) (any, error) {
	log.Printf("[PROCESSOR] Generating daily report")
	return p.reports.GenerateDailyReport(ctx)
}
