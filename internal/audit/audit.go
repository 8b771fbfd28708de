package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// Event is a single structured audit line. Amounts are serialized as
// decimal strings so the trail never inherits float formatting.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	UserID    int64     `json:"user_id"`
	Amount    string    `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogOperation(eventType string, userID int64, amount decimal.Decimal, status string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: eventType,
		UserID:    userID,
		Amount:    amount.String(),
		Status:    status,
	})
}

func (a *Logger) LogTransfer(senderID, receiverID int64, amount decimal.Decimal, status string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "TRANSFER",
		UserID:    senderID,
		Amount:    amount.String(),
		Status:    status,
		Details: map[string]int64{
			"receiver_id": receiverID,
		},
	})
}

func (a *Logger) LogError(eventType string, userID int64, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: eventType,
		UserID:    userID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
