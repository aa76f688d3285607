package journal

import (
	"jewl-sol/internal/logic/submitter"
	"time"
)

const tableName = "submission_journal"

// Schema submission_journal 表结构，signature 为主键，重复提交按签名覆盖
const Schema = `
CREATE TABLE IF NOT EXISTS submission_journal (
	signature     VARCHAR(88) PRIMARY KEY,
	payer         VARCHAR(44) NOT NULL,
	status        VARCHAR(32) NOT NULL,
	last_step     VARCHAR(16) NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	compute_limit BIGINT NOT NULL,
	compute_price BIGINT NOT NULL,
	broadcasts    INT NOT NULL,
	slot          BIGINT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_submission_journal_finished_at ON submission_journal (finished_at);
`

// Record 表示一条待写入 DB 的提交记录
type Record struct {
	Signature    string
	Payer        string
	Status       submitter.Status
	LastStep     submitter.Step
	Error        string
	ComputeLimit uint32
	ComputePrice uint64
	Broadcasts   int
	Slot         uint64
	StartedAt    time.Time
	FinishedAt   time.Time
}

func recordFromOutcome(o submitter.Outcome) *Record {
	return &Record{
		Signature:    o.Signature,
		Payer:        o.Payer,
		Status:       o.Status,
		LastStep:     o.LastStep,
		Error:        o.Error,
		ComputeLimit: o.ComputeLimit,
		ComputePrice: o.ComputePrice,
		Broadcasts:   o.Broadcasts,
		Slot:         o.Slot,
		StartedAt:    o.StartedAt,
		FinishedAt:   o.FinishedAt,
	}
}
