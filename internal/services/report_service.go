package services

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paylite/backend/internal/models"
)

// ReportService aggregates the transaction log for reporting. Reads only;
// it never touches balances.
type ReportService struct {
	db *sql.DB
}

// DailyReport summarizes the transactions committed on one UTC day.
type DailyReport struct {
	Date              string                     `json:"date"`
	TotalTransactions int                        `json:"totalTransactions"`
	TotalsByType      map[string]decimal.Decimal `json:"totalsByType"`
	Transactions      []models.Transaction       `json:"transactions"`
}

func NewReportService(db *sql.DB) *ReportService {
	return &ReportService{db: db}
}

// GenerateDailyReport returns all of today's transactions plus per-type
// amount totals.
func (s *ReportService) GenerateDailyReport(ctx context.Context) (*DailyReport, error) {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, type, status, amount, user_id, receiver_id, created_at
        FROM transactions
        WHERE created_at >= $1 AND created_at < $2
        ORDER BY created_at ASC
    `, start, end)
	if err != nil {
		log.Printf("[REPORT] Daily report query failed: %v", err)
		return nil, err
	}
	defer rows.Close()

	report := &DailyReport{
		Date:         start.Format("2006-01-02"),
		TotalsByType: map[string]decimal.Decimal{},
		Transactions: []models.Transaction{},
	}

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

		report.TotalsByType[record.Type] = report.TotalsByType[record.Type].Add(record.Amount)
		report.Transactions = append(report.Transactions, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.TotalTransactions = len(report.Transactions)
	return report, nil
}
