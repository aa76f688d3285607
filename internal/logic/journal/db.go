package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"jewl-sol/internal/logic/submitter"
	"jewl-sol/pkg/logger"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// DBStore 提交记录的 PostgreSQL 持久化
type DBStore struct {
	db *sql.DB
}

func NewDBStore(db *sql.DB) *DBStore {
	return &DBStore{db: db}
}

// OpenDB 使用 lib/pq 打开连接并确认可用
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (d *DBStore) EnsureSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create %s: %w", tableName, err)
	}
	return nil
}

// GetStatus 查询签名的最终状态，不存在时 ok 为 false
func (d *DBStore) GetStatus(ctx context.Context, sig string) (submitter.Status, bool, error) {
	var status string
	err := d.db.QueryRowContext(ctx, `SELECT status FROM submission_journal WHERE signature = $1`, sig).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query status %s: %w", sig, err)
	}
	return submitter.Status(status), true, nil
}

// BatchUpsert 按 batchLimit 分批写入，签名冲突时覆盖结果字段
func (d *DBStore) BatchUpsert(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	const batchLimit = 1000
	for i := 0; i < len(records); i += batchLimit {
		end := min(i+batchLimit, len(records))
		if err := d.upsertChunk(ctx, dedupe(records[i:end])); err != nil {
			return err
		}
	}
	return nil
}

const columnsPerRecord = 11

// upsertChunk 同一条 INSERT 中同一主键出现两次会报错，调用前需去重
func (d *DBStore) upsertChunk(ctx context.Context, records []*Record) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO submission_journal (signature, payer, status, last_step, error, compute_limit, compute_price, broadcasts, slot, started_at, finished_at, updated_at) VALUES `)
	args := make([]any, 0, len(records)*columnsPerRecord)
	for i, r := range records {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('(')
		for j := 1; j <= columnsPerRecord; j++ {
			fmt.Fprintf(&sb, "$%d,", i*columnsPerRecord+j)
		}
		sb.WriteString("CURRENT_TIMESTAMP)")
		args = append(args, r.Signature, r.Payer, string(r.Status), string(r.LastStep), r.Error,
			r.ComputeLimit, r.ComputePrice, r.Broadcasts, r.Slot, r.StartedAt, r.FinishedAt)
	}
	sb.WriteString(` ON CONFLICT (signature) DO UPDATE SET
	status = EXCLUDED.status,
	last_step = EXCLUDED.last_step,
	error = EXCLUDED.error,
	broadcasts = EXCLUDED.broadcasts,
	slot = EXCLUDED.slot,
	finished_at = EXCLUDED.finished_at,
	updated_at = CURRENT_TIMESTAMP`)

	if _, err := d.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("upsert %d journal records: %w", len(records), err)
	}
	return nil
}

// dedupe 同一签名保留最后一条
func dedupe(records []*Record) []*Record {
	index := make(map[string]int, len(records))
	out := make([]*Record, 0, len(records))
	for _, r := range records {
		if i, ok := index[r.Signature]; ok {
			out[i] = r
			continue
		}
		index[r.Signature] = len(out)
		out = append(out, r)
	}
	return out
}

// DeleteBefore 分批删除 finished_at 早于 before 的记录（每批最多 1000 条），返回删除总数
func (d *DBStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	const batchSize = 1000
	var total int64
	for {
		res, err := d.db.ExecContext(ctx,
			`DELETE FROM submission_journal WHERE signature IN (SELECT signature FROM submission_journal WHERE finished_at < $1 LIMIT $2)`,
			before, batchSize,
		)
		if err != nil {
			return total, fmt.Errorf("delete old journal records failed: %w", err)
		}

		n, _ := res.RowsAffected()
		if n == 0 {
			return total, nil
		}
		total += n
		logger.Infof("[Journal] 清理历史提交记录 %d 条", n)
	}
}
