package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/paylite/backend/internal/services"
)

func TestDispatcher_EnqueueTransaction(t *testing.T) {
	t.Run("deposit payload omits the receiver", func(t *testing.T) {
		redisClient, mock := redismock.NewClientMock()
		d := NewDispatcher(redisClient, 1, 3, retryableOnly)

		mock.CustomMatch(func(expected, actual []interface{}) error {
			job := pushedJob(t, actual[2])
			assert.Equal(t, OpDeposit, job.Operation)

			var payload TransactionPayload
			assert.NoError(t, json.Unmarshal(job.Payload, &payload))
			assert.Equal(t, int64(1), payload.UserID)
			assert.Zero(t, payload.ReceiverID)
			assert.True(t, payload.Amount.Equal(decimal.NewFromInt(100)))
			return nil
		}).ExpectLPush("queue:transaction", "envelope").SetVal(1)

		jobID, err := d.EnqueueTransaction(context.Background(), OpDeposit, 1, 2, decimal.NewFromInt(100))
		assert.NoError(t, err)
		assert.NotEmpty(t, jobID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("transfer payload carries the receiver", func(t *testing.T) {
		redisClient, mock := redismock.NewClientMock()
		d := NewDispatcher(redisClient, 1, 3, retryableOnly)

		mock.CustomMatch(func(expected, actual []interface{}) error {
			job := pushedJob(t, actual[2])
			assert.Equal(t, OpTransfer, job.Operation)

			var payload TransactionPayload
			assert.NoError(t, json.Unmarshal(job.Payload, &payload))
			assert.Equal(t, int64(1), payload.UserID)
			assert.Equal(t, int64(2), payload.ReceiverID)
			return nil
		}).ExpectLPush("queue:transaction", "envelope").SetVal(1)

		_, err := d.EnqueueTransaction(context.Background(), OpTransfer, 1, 2, decimal.NewFromInt(25))
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionProcessor(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	processor := NewTransactionProcessor(services.NewBalanceService(db))

	t.Run("registers the three transaction operations", func(t *testing.T) {
		redisClient, _ := redismock.NewClientMock()
		d := NewDispatcher(redisClient, 1, 3, retryableOnly)
		processor.Register(d)

		for _, op := range []string{OpDeposit, OpWithdraw, OpTransfer} {
			_, ok := d.handlers[op]
			assert.True(t, ok, op)
		}
	})

	t.Run("malformed payload fails without touching storage", func(t *testing.T) {
		_, err := processor.handleDeposit(context.Background(), json.RawMessage(`{bad`))
		assert.Error(t, err)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("engine errors propagate to fail the job", func(t *testing.T) {
		payload, _ := json.Marshal(TransactionPayload{
			UserID:     1,
			ReceiverID: 1,
			Amount:     decimal.NewFromInt(10),
		})

		_, err := processor.handleTransfer(context.Background(), payload)
		assert.ErrorIs(t, err, services.ErrSelfTransfer)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("zero amount fails the job without touching storage", func(t *testing.T) {
		payload, _ := json.Marshal(TransactionPayload{UserID: 1, Amount: decimal.Zero})

		_, err := processor.handleWithdraw(context.Background(), payload)
		assert.ErrorIs(t, err, services.ErrInvalidAmount)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}
