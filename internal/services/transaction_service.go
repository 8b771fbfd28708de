package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/paylite/backend/internal/middleware"
	"github.com/paylite/backend/internal/models"
)

// Enqueuer is the slice of the job dispatcher the HTTP layer needs:
// hand over an operation and payload, get a job id back immediately.
type Enqueuer interface {
	EnqueueTransaction(ctx context.Context, operation string, userID, receiverID int64, amount decimal.Decimal) (jobID string, err error)
}

// TransactionService is the HTTP entry point for ledger operations.
// Mutations are queued, not executed inline: the handler validates the
// request shape, enqueues a job for the authenticated user, and answers
// 202. All monetary invariants live in the balance service, which the
// queue worker invokes.
type TransactionService struct {
	db        *sql.DB
	balance   *BalanceService
	queue     Enqueuer
	validator *ValidationHelper
}

func NewTransactionService(db *sql.DB, balance *BalanceService, queue Enqueuer) *TransactionService {
	return &TransactionService{
		db:        db,
		balance:   balance,
		queue:     queue,
		validator: NewValidationHelper(),
	}
}

// Deposit queues a deposit for the authenticated user
// @Summary Queue a deposit
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body models.DepositRequest true "Deposit request"
// @Success 202 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Router /transaction/deposit [post]
func (ts *TransactionService) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req models.DepositRequest
	if !ts.decodeBody(w, r, &req) {
		return
	}
	if !req.Amount.IsPositive() {
		SendErrorResponse(w, "Amount must be greater than zero", http.StatusBadRequest, nil)
		return
	}

	jobID, err := ts.queue.EnqueueTransaction(r.Context(), "deposit", userID, 0, req.Amount)
	if err != nil {
		log.Printf("[TRANSACTION] Failed to enqueue deposit for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to queue deposit", http.StatusInternalServerError, nil)
		return
	}

	ts.accepted(w, "Deposit queued for processing.", jobID)
}

// Withdraw queues a withdrawal for the authenticated user
// @Summary Queue a withdrawal
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body models.WithdrawRequest true "Withdraw request"
// @Success 202 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Router /transaction/withdraw [post]
func (ts *TransactionService) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req models.WithdrawRequest
	if !ts.decodeBody(w, r, &req) {
		return
	}
	if !req.Amount.IsPositive() {
		SendErrorResponse(w, "Amount must be greater than zero", http.StatusBadRequest, nil)
		return
	}

	jobID, err := ts.queue.EnqueueTransaction(r.Context(), "withdraw", userID, 0, req.Amount)
	if err != nil {
		log.Printf("[TRANSACTION] Failed to enqueue withdrawal for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to queue withdrawal", http.StatusInternalServerError, nil)
		return
	}

	ts.accepted(w, "Withdrawal queued for processing.", jobID)
}

// Transfer queues a transfer from the authenticated user
// @Summary Queue a transfer
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body models.TransferRequest true "Transfer request"
// @Success 202 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Router /transaction/transfer [post]
func (ts *TransactionService) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req models.TransferRequest
	if !ts.decodeBody(w, r, &req) {
		return
	}
	if !req.Amount.IsPositive() {
		SendErrorResponse(w, "Amount must be greater than zero", http.StatusBadRequest, nil)
		return
	}
	if req.ReceiverID == userID {
		SendErrorResponse(w, "Cannot transfer to the same account", http.StatusBadRequest, nil)
		return
	}

	jobID, err := ts.queue.EnqueueTransaction(r.Context(), "transfer", userID, req.ReceiverID, req.Amount)
	if err != nil {
		log.Printf("[TRANSACTION] Failed to enqueue transfer for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to queue transfer", http.StatusInternalServerError, nil)
		return
	}

	ts.accepted(w, "Transfer queued for processing.", jobID)
}

// GetBalance returns the authenticated user's current balance
// @Summary Get balance
// @Tags transactions
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 401 {object} ErrorResponse
// @Router /balance [get]
func (ts *TransactionService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := ts.balance.GetBalance(r.Context(), userID)
	if err != nil {
		WriteLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"userId":  userID,
		"balance": balance,
	})
}

// ListTransactions lists the authenticated user's transactions
// @Summary List transactions
// @Tags transactions
// @Produce json
// @Param limit query int false "Number of transactions to return (default 50, max 100)"
// @Success 200 {object} map[string]any
// @Router /transactions [get]
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	transactions, err := ts.fetchTransactions(userID, limit)
	if err != nil {
		log.Printf("[TRANSACTION] Failed to list transactions for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// GetTransaction fetches one transaction belonging to the caller
// @Summary Get transaction by id
// @Tags transactions
// @Produce json
// @Param txId path int true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{txId} [get]
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	txID, err := strconv.ParseInt(chi.URLParam(r, "txId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	record, err := ts.fetchTransaction(txID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[TRANSACTION] Failed to fetch transaction %d: %v", txID, err)
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

func (ts *TransactionService) fetchTransaction(txID, userID int64) (*models.Transaction, error) {
	record := &models.Transaction{}
	var amount string
	var receiverID sql.NullInt64
	err := ts.db.QueryRow(`
        SELECT id, type, status, amount, user_id, receiver_id, created_at
        FROM transactions
        WHERE id = $1 AND (user_id = $2 OR receiver_id = $2)
    `, txID, userID).Scan(
		&record.ID, &record.Type, &record.Status, &amount,
		&record.UserID, &receiverID, &record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	if receiverID.Valid {
		record.ReceiverID = &receiverID.Int64
	}
	return record, nil
}

func (ts *TransactionService) fetchTransactions(userID int64, limit int) ([]models.Transaction, error) {
	rows, err := ts.db.Query(`
        SELECT id, type, status, amount, user_id, receiver_id, created_at
        FROM transactions
        WHERE user_id = $1 OR receiver_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var record models.Transaction
		var amount string
		var receiverID sql.NullInt64
		if err := rows.Scan(&record.ID, &record.Type, &record.Status, &amount,
			&record.UserID, &receiverID, &record.CreatedAt); err != nil {
			return nil, err
		}

		record.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, err
		}
		if receiverID.Valid {
			record.ReceiverID = &receiverID.Int64
		}
		transactions = append(transactions, record)
	}
	return transactions, rows.Err()
}

// decodeBody applies the teacher pattern for strict JSON request bodies:
// size-capped, unknown fields rejected, exactly one object.
func (ts *TransactionService) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := ts.validator.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func (ts *TransactionService) accepted(w http.ResponseWriter, message, jobID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"message": message,
		"jobId":   jobID,
	})
}

// WriteLedgerError maps balance service errors onto HTTP statuses. A
// missing acting user maps to 401 while a missing receiver maps to 400,
// matching the auth-grade treatment of a corrupted session.
func WriteLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		SendErrorResponse(w, err.Error(), http.StatusUnauthorized, nil)
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSelfTransfer),
		errors.Is(err, ErrReceiverNotFound),
		errors.Is(err, ErrInsufficientFunds):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ErrStorageConflict):
		SendErrorResponse(w, "Operation could not complete, try again", http.StatusServiceUnavailable, nil)
	default:
		SendErrorResponse(w, "Internal error", http.StatusInternalServerError, nil)
	}
}
