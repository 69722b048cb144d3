// Package store persists the price-line commit journal and cached reference data.
package store

import (
	"context"
	"time"

	"tradedesk/internal/models"
)

// DataStore defines the interface for local persistence.
type DataStore interface {
	Journal

	// Lot sizes
	SaveLotSizes(ctx context.Context, sizes []models.LotSize) error
	GetLotSizes(ctx context.Context) ([]models.LotSize, error)

	// Sync tracking
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	// Lifecycle
	Close() error
}

// Journal records price-line commits.
type Journal interface {
	RecordCommit(ctx context.Context, commit *Commit) error
	GetCommits(ctx context.Context, filter CommitFilter) ([]Commit, error)
}

// CommitTarget identifies which backend resource a commit wrote.
type CommitTarget string

const (
	TargetPosition    CommitTarget = "position"
	TargetTradeDetail CommitTarget = "trade_detail"
)

// CommitStatus is the outcome of a commit.
type CommitStatus string

const (
	CommitOK         CommitStatus = "ok"
	CommitFailed     CommitStatus = "failed"
	CommitRolledBack CommitStatus = "rolled_back"
)

// Commit is one journaled drag commit.
type Commit struct {
	ID            string           `json:"id"`
	TradeID       string           `json:"trade_id"`
	PositionID    string           `json:"position_id,omitempty"`
	Level         models.LevelKind `json:"level"`
	Target        CommitTarget     `json:"target"`
	Price         float64          `json:"price"`
	PreviousPrice float64          `json:"previous_price"`
	Status        CommitStatus     `json:"status"`
	Error         string           `json:"error,omitempty"`
	Duration      time.Duration    `json:"duration"`
	CreatedAt     time.Time        `json:"created_at"`
}

// CommitFilter represents filters for querying commits.
type CommitFilter struct {
	TradeID   string
	Status    CommitStatus
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}
