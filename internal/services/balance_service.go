package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/paylite/backend/internal/audit"
	"github.com/paylite/backend/internal/models"
)

// BalanceService executes deposit, withdraw and transfer mutations against
// the ledger. Every operation runs in a single database transaction: the
// balance is re-read under a row lock, validated, written, and the audit
// record inserted, all committing or rolling back together. Correctness
// under concurrent workers relies solely on the storage layer's locking,
// so it holds across processes, not just goroutines.
type BalanceService struct {
	db          *sql.DB
	audit       *audit.Logger
	lockTimeout time.Duration
}

// OperationResult is returned by Deposit and Withdraw.
type OperationResult struct {
	Message     string             `json:"message"`
	Balance     decimal.Decimal    `json:"balance"`
	Transaction models.Transaction `json:"transaction"`
}

// TransferResult is returned by Transfer.
type TransferResult struct {
	Message         string             `json:"message"`
	SenderBalance   decimal.Decimal    `json:"senderBalance"`
	ReceiverBalance decimal.Decimal    `json:"receiverBalance"`
	Transaction     models.Transaction `json:"transaction"`
}

func NewBalanceService(db *sql.DB) *BalanceService {
	viper.SetDefault("ledger.lock_timeout", 3*time.Second)
	return &BalanceService{
		db:          db,
		audit:       audit.NewLogger(),
		lockTimeout: viper.GetDuration("ledger.lock_timeout"),
	}
}

// Deposit credits amount to the user's balance.
func (s *BalanceService) Deposit(ctx context.Context, userID int64, amount decimal.Decimal) (*OperationResult, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var result *OperationResult
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		user, err := s.lockUser(tx, userID)
		if err != nil {
			return err
		}

		newBalance := user.Balance.Add(amount)
		if err := s.updateBalance(tx, userID, newBalance); err != nil {
			return err
		}

		record, err := s.insertTransaction(tx, models.TypeDeposit, userID, nil, amount)
		if err != nil {
			return err
		}

		result = &OperationResult{
			Message:     "Deposit completed.",
			Balance:     newBalance,
			Transaction: *record,
		}
		return nil
	})
	if err != nil {
		s.audit.LogError(models.TypeDeposit, userID, err)
		return nil, err
	}

	s.audit.LogOperation(models.TypeDeposit, userID, amount, "SUCCESS")
	return result, nil
}

// Withdraw debits amount from the user's balance. The sufficiency check
// uses the balance read under the row lock in this same transaction, so
// two concurrent withdrawals cannot both pass it.
func (s *BalanceService) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal) (*OperationResult, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var result *OperationResult
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		user, err := s.lockUser(tx, userID)
		if err != nil {
			return err
		}

		if user.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		newBalance := user.Balance.Sub(amount)
		if err := s.updateBalance(tx, userID, newBalance); err != nil {
			return err
		}

		record, err := s.insertTransaction(tx, models.TypeWithdraw, userID, nil, amount)
		if err != nil {
			return err
		}

		result = &OperationResult{
			Message:     "Withdrawal completed.",
			Balance:     newBalance,
			Transaction: *record,
		}
		return nil
	})
	if err != nil {
		s.audit.LogError(models.TypeWithdraw, userID, err)
		return nil, err
	}

	s.audit.LogOperation(models.TypeWithdraw, userID, amount, "SUCCESS")
	return result, nil
}

// Transfer moves amount from sender to receiver. Row locks are acquired
// in ascending user id order so opposing transfers between the same pair
// never deadlock.
func (s *BalanceService) Transfer(ctx context.Context, senderID, receiverID int64, amount decimal.Decimal) (*TransferResult, error) {
	if senderID == receiverID {
		return nil, ErrSelfTransfer
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var result *TransferResult
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		firstID, secondID := senderID, receiverID
		if receiverID < senderID {
			firstID, secondID = receiverID, senderID
		}

		first, err := s.lockUser(tx, firstID)
		if err != nil {
			return missingUserErr(err, firstID, receiverID)
		}

		second, err := s.lockUser(tx, secondID)
		if err != nil {
			return missingUserErr(err, secondID, receiverID)
		}

		sender, receiver := first, second
		if firstID != senderID {
			sender, receiver = second, first
		}

		if sender.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		senderBalance := sender.Balance.Sub(amount)
		receiverBalance := receiver.Balance.Add(amount)

		if err := s.updateBalance(tx, senderID, senderBalance); err != nil {
			return err
		}
		if err := s.updateBalance(tx, receiverID, receiverBalance); err != nil {
			return err
		}

		record, err := s.insertTransaction(tx, models.TypeTransfer, senderID, &receiverID, amount)
		if err != nil {
			return err
		}

		result = &TransferResult{
			Message:         "Transfer completed.",
			SenderBalance:   senderBalance,
			ReceiverBalance: receiverBalance,
			Transaction:     *record,
		}
		return nil
	})
	if err != nil {
		s.audit.LogError(models.TypeTransfer, senderID, err)
		return nil, err
	}

	s.audit.LogTransfer(senderID, receiverID, amount, "SUCCESS")
	return result, nil
}

// GetBalance returns the user's current balance outside any unit of work.
// It must never feed a mutation; mutations re-read under lock.
func (s *BalanceService) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, classifyStorageErr(err)
	}
	return decimal.NewFromString(raw)
}

// runInTx runs fn inside a transaction that commits only if fn returns
// nil and rolls back on every other exit path. A lock timeout bounds how
// long the unit of work may wait on contended rows; hitting it surfaces
// as a retryable conflict instead of blocking the worker.
func (s *BalanceService) runInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyStorageErr(err)
	}
	defer tx.Rollback()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return classifyStorageErr(err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[LEDGER] Commit failed: %v", err)
		return classifyStorageErr(err)
	}
	return nil
}

type lockedUser struct {
	ID      int64
	Balance decimal.Decimal
}

func (s *BalanceService) lockUser(tx *sql.Tx, userID int64) (*lockedUser, error) {
	var user lockedUser
	var raw string
	err := tx.QueryRow(`SELECT id, balance FROM users WHERE id = $1 FOR UPDATE`, userID).
		Scan(&user.ID, &raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, classifyStorageErr(err)
	}

	user.Balance, err = decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance for user %d: %w", userID, err)
	}
	return &user, nil
}

func (s *BalanceService) updateBalance(tx *sql.Tx, userID int64, balance decimal.Decimal) error {
	result, err := tx.Exec(`UPDATE users SET balance = $1, updated_at = NOW() WHERE id = $2`,
		balance.String(), userID)
	if err != nil {
		return classifyStorageErr(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *BalanceService) insertTransaction(tx *sql.Tx, txType string, userID int64, receiverID *int64, amount decimal.Decimal) (*models.Transaction, error) {
	record := models.Transaction{
		Type:       txType,
		Status:     models.StatusCompleted,
		Amount:     amount,
		UserID:     userID,
		ReceiverID: receiverID,
	}

	err := tx.QueryRow(`
        INSERT INTO transactions (type, status, amount, user_id, receiver_id, created_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
        RETURNING id, created_at
    `, txType, record.Status, amount.String(), userID, receiverID).
		Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return nil, classifyStorageErr(err)
	}
	return &record, nil
}

// missingUserErr keeps the asymmetric not-found mapping: a missing sender
// is an auth-grade failure, a missing receiver is a bad request.
func missingUserErr(err error, lockedID, receiverID int64) error {
	if err == ErrUserNotFound && lockedID == receiverID {
		return ErrReceiverNotFound
	}
	return err
}
