// Package events provides the in-process pub/sub bus that connects ledger
// mutations to the websocket push stream and the scheduler.
package events

import "time"

// EventType identifies a category of system event
type EventType string

const (
	// LedgerChanged fires whenever the stock action log mutates.
	LedgerChanged EventType = "ledger_changed"

	// FundTradeRecorded fires on fund trade insert/update/delete.
	FundTradeRecorded EventType = "fund_trade_recorded"

	// OptionTradeRecorded fires on option trade insert/update/delete.
	OptionTradeRecorded EventType = "option_trade_recorded"

	// CoveredCallChanged fires when a covered call opens, resolves or reopens.
	CoveredCallChanged EventType = "covered_call_changed"

	// PriceUpdated fires when a quote is written to the price cache.
	PriceUpdated EventType = "price_updated"

	// SnapshotCreated fires when the daily dashboard snapshot job runs.
	SnapshotCreated EventType = "snapshot_created"

	// JobCompleted and JobFailed track scheduler job outcomes.
	JobCompleted EventType = "job_completed"
	JobFailed    EventType = "job_failed"
)

// Event is a single published occurrence. Data is free-form and must be
// JSON-serializable - the websocket stream forwards it verbatim.
type Event struct {
	Type      EventType              `json:"type"`
	Module    string                 `json:"module"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
