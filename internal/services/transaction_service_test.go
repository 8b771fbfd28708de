package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/paylite/backend/internal/middleware"
)

// stubEnqueuer records the last enqueued transaction instead of talking
// to Redis.
type stubEnqueuer struct {
	jobID string
	err   error

	operation  string
	userID     int64
	receiverID int64
	amount     decimal.Decimal
}

func (s *stubEnqueuer) EnqueueTransaction(ctx context.Context, operation string, userID, receiverID int64, amount decimal.Decimal) (string, error) {
	s.operation = operation
	s.userID = userID
	s.receiverID = receiverID
	s.amount = amount
	return s.jobID, s.err
}

func newTestTransactionService(t *testing.T) (*TransactionService, sqlmock.Sqlmock, *stubEnqueuer, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	enqueuer := &stubEnqueuer{jobID: "job-123"}
	service := NewTransactionService(db, NewBalanceService(db), enqueuer)
	return service, mock, enqueuer, func() { db.Close() }
}

func authedRequest(method, target, body string, userID int64) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(middleware.WithPrincipal(req.Context(), userID, "user"))
}

func TestTransactionService_Deposit(t *testing.T) {
	service, _, enqueuer, cleanup := newTestTransactionService(t)
	defer cleanup()

	t.Run("queues the deposit and answers 202", func(t *testing.T) {
		req := authedRequest("POST", "/transaction/deposit", `{"amount": "100"}`, 1)
		w := httptest.NewRecorder()

		service.Deposit(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Contains(t, w.Body.String(), "job-123")
		assert.Equal(t, "deposit", enqueuer.operation)
		assert.Equal(t, int64(1), enqueuer.userID)
		assert.True(t, enqueuer.amount.Equal(decimal.NewFromInt(100)))
	})

	t.Run("rejects unauthenticated requests", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/transaction/deposit", strings.NewReader(`{"amount": "100"}`))
		w := httptest.NewRecorder()

		service.Deposit(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		req := authedRequest("POST", "/transaction/deposit", `{bad`, 1)
		w := httptest.NewRecorder()

		service.Deposit(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		req := authedRequest("POST", "/transaction/deposit", `{"amount": "100", "extra": true}`, 1)
		w := httptest.NewRecorder()

		service.Deposit(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		req := authedRequest("POST", "/transaction/deposit", `{"amount": "-5"}`, 1)
		w := httptest.NewRecorder()

		service.Deposit(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("enqueue failure answers 500", func(t *testing.T) {
		enqueuer.err = errors.New("redis down")
		defer func() { enqueuer.err = nil }()

		req := authedRequest("POST", "/transaction/deposit", `{"amount": "100"}`, 1)
		w := httptest.NewRecorder()

		service.Deposit(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestTransactionService_Withdraw(t *testing.T) {
	service, _, enqueuer, cleanup := newTestTransactionService(t)
	defer cleanup()

	t.Run("queues the withdrawal and answers 202", func(t *testing.T) {
		req := authedRequest("POST", "/transaction/withdraw", `{"amount": "25.50"}`, 2)
		w := httptest.NewRecorder()

		service.Withdraw(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "withdraw", enqueuer.operation)
		assert.Equal(t, int64(2), enqueuer.userID)
		assert.Equal(t, "25.50", enqueuer.amount.StringFixed(2))
	})
}

func TestTransactionService_Transfer(t *testing.T) {
	service, _, enqueuer, cleanup := newTestTransactionService(t)
	defer cleanup()

	t.Run("queues the transfer and answers 202", func(t *testing.T) {
		req := authedRequest("POST", "/transaction/transfer", `{"receiverId": 2, "amount": "25"}`, 1)
		w := httptest.NewRecorder()

		service.Transfer(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "transfer", enqueuer.operation)
		assert.Equal(t, int64(1), enqueuer.userID)
		assert.Equal(t, int64(2), enqueuer.receiverID)
	})

	t.Run("rejects transfers to yourself", func(t *testing.T) {
		req := authedRequest("POST", "/transaction/transfer", `{"receiverId": 1, "amount": "25"}`, 1)
		w := httptest.NewRecorder()

		service.Transfer(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "same account")
	})

	t.Run("rejects a missing receiver", func(t *testing.T) {
		req := authedRequest("POST", "/transaction/transfer", `{"amount": "25"}`, 1)
		w := httptest.NewRecorder()

		service.Transfer(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTransactionService_GetBalance(t *testing.T) {
	service, mock, _, cleanup := newTestTransactionService(t)
	defer cleanup()

	t.Run("returns the current balance", func(t *testing.T) {
		mock.ExpectQuery(`SELECT balance FROM users WHERE id = \$1`).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("150.25"))

		req := authedRequest("GET", "/balance", "", 1)
		w := httptest.NewRecorder()

		service.GetBalance(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "150.25")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user answers 401", func(t *testing.T) {
		mock.ExpectQuery(`SELECT balance FROM users WHERE id = \$1`).
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))

		req := authedRequest("GET", "/balance", "", 9)
		w := httptest.NewRecorder()

		service.GetBalance(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestTransactionService_ListTransactions(t *testing.T) {
	service, mock, _, cleanup := newTestTransactionService(t)
	defer cleanup()

	t.Run("lists transactions involving the caller", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "type", "status", "amount", "user_id", "receiver_id", "created_at"}).
			AddRow(int64(2), "TRANSFER", "COMPLETED", "25", int64(1), int64(2), time.Now()).
			AddRow(int64(1), "DEPOSIT", "COMPLETED", "100", int64(1), nil, time.Now())
		mock.ExpectQuery(`SELECT id, type, status, amount, user_id, receiver_id, created_at FROM transactions`).
			WithArgs(int64(1), 50).
			WillReturnRows(rows)

		req := authedRequest("GET", "/transactions", "", 1)
		w := httptest.NewRecorder()

		service.ListTransactions(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"count":2`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("caps the limit at 100", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, type, status, amount, user_id, receiver_id, created_at FROM transactions`).
			WithArgs(int64(1), 50).
			WillReturnRows(sqlmock.NewRows([]string{"id", "type", "status", "amount", "user_id", "receiver_id", "created_at"}))

		req := authedRequest("GET", "/transactions?limit=9999", "", 1)
		w := httptest.NewRecorder()

		service.ListTransactions(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionService_GetTransaction(t *testing.T) {
	service, mock, _, cleanup := newTestTransactionService(t)
	defer cleanup()

	withTxID := func(req *http.Request, id string) *http.Request {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("txId", id)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	t.Run("returns a transaction the caller is part of", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, type, status, amount, user_id, receiver_id, created_at FROM transactions WHERE id = \$1`).
			WithArgs(int64(42), int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "type", "status", "amount", "user_id", "receiver_id", "created_at"}).
				AddRow(int64(42), "DEPOSIT", "COMPLETED", "100", int64(1), nil, time.Now()))

		req := withTxID(authedRequest("GET", "/transactions/42", "", 1), "42")
		w := httptest.NewRecorder()

		service.GetTransaction(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"id":42`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("answers 404 for someone else's transaction", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, type, status, amount, user_id, receiver_id, created_at FROM transactions WHERE id = \$1`).
			WithArgs(int64(42), int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "type", "status", "amount", "user_id", "receiver_id", "created_at"}))

		req := withTxID(authedRequest("GET", "/transactions/42", "", 7), "42")
		w := httptest.NewRecorder()

		service.GetTransaction(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("rejects a non-numeric id", func(t *testing.T) {
		req := withTxID(authedRequest("GET", "/transactions/abc", "", 1), "abc")
		w := httptest.NewRecorder()

		service.GetTransaction(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestWriteLedgerError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"missing actor is auth-grade", ErrUserNotFound, http.StatusUnauthorized},
		{"missing receiver is a bad request", ErrReceiverNotFound, http.StatusBadRequest},
		{"invalid amount", ErrInvalidAmount, http.StatusBadRequest},
		{"self transfer", ErrSelfTransfer, http.StatusBadRequest},
		{"insufficient funds", ErrInsufficientFunds, http.StatusBadRequest},
		{"storage conflict", ErrStorageConflict, http.StatusServiceUnavailable},
		{"anything else", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteLedgerError(w, tc.err)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}
