// Package recorder 每步汇总的SQLite记录器
// 功能：将每一步的决策汇总异步写入SQLite数据库，供离线分析
package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
	_ "modernc.org/sqlite"
)

const queueSize = 1024 // 等待写入的汇总数量上限，超过后Write阻塞

// Stats 写入统计
type Stats struct {
	Steps     int64 // 已写入的步数
	Decisions int64 // 已写入的决策数
	Errors    int64 // 写入失败的步数
}

// Recorder SQLite记录器
// 说明：Write只把汇总放入队列，由单独的写协程按步在事务中写入
type Recorder struct {
	db *sql.DB

	ch   chan *entity.StepReport
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	steps, decisions, errors atomic.Int64
	firstErr                 error
}

// Open 打开（或创建）数据库并启动写协程
// 参数：path-数据库文件路径，所在目录不存在时自动创建
func Open(path string) (*Recorder, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &Recorder{
		db: db,
		ch: make(chan *entity.StepReport, queueSize),
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop()
	}()
	log.Infof("record step reports to %s", path)
	return r, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS steps (
			step INTEGER PRIMARY KEY,
			running INTEGER NOT NULL,
			departed INTEGER NOT NULL,
			arrived INTEGER NOT NULL,
			lane_changes INTEGER NOT NULL,
			failures INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS decisions (
			step INTEGER NOT NULL,
			person_id INTEGER NOT NULL,
			lane_id INTEGER NOT NULL,
			s REAL NOT NULL,
			v REAL NOT NULL,
			a REAL NOT NULL,
			lane_change INTEGER NOT NULL,
			indicator INTEGER NOT NULL,
			sync_state TEXT NOT NULL,
			desire_left REAL NOT NULL,
			desire_right REAL NOT NULL,
			PRIMARY KEY (step, person_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_person_step ON decisions(person_id, step);`,
		`CREATE TABLE IF NOT EXISTS failures (
			step INTEGER NOT NULL,
			person_id INTEGER NOT NULL,
			error TEXT NOT NULL,
			PRIMARY KEY (step, person_id)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Write 提交一步的汇总，Close之后调用无效
func (r *Recorder) Write(report *entity.StepReport) {
	if r == nil || report == nil || r.closed.Load() {
		return
	}
	r.ch <- report
}

// Close 等待队列中的汇总写完并关闭数据库
// 返回：第一个写入错误或关闭错误
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var err error
	r.once.Do(func() {
		r.closed.Store(true)
		close(r.ch)
		r.wg.Wait()
		err = r.db.Close()
		if r.firstErr != nil {
			err = r.firstErr
		}
	})
	return err
}

// Stats 写入统计
func (r *Recorder) Stats() Stats {
	return Stats{
		Steps:     r.steps.Load(),
		Decisions: r.decisions.Load(),
		Errors:    r.errors.Load(),
	}
}

func (r *Recorder) loop() {
	for report := range r.ch {
		if err := r.writeStep(context.Background(), report); err != nil {
			r.errors.Add(1)
			if r.firstErr == nil {
				r.firstErr = err
			}
			log.Errorf("failed to record step %d: %v", report.Step, err)
			continue
		}
		r.steps.Add(1)
		r.decisions.Add(int64(len(report.Decisions)))
	}
}

// writeStep 在一个事务中写入一步的汇总
func (r *Recorder) writeStep(ctx context.Context, report *entity.StepReport) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO steps(step,running,departed,arrived,lane_changes,failures) VALUES(?,?,?,?,?,?)`,
		report.Step, report.Running, report.Departed, report.Arrived, report.LaneChanges, len(report.Failures),
	); err != nil {
		return err
	}
	if len(report.Decisions) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO decisions(step,person_id,lane_id,s,v,a,lane_change,indicator,sync_state,desire_left,desire_right) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, d := range report.Decisions {
			if _, err := stmt.ExecContext(ctx,
				report.Step, d.ID, d.Lane, d.S, d.V, d.Acceleration,
				int(d.LaneChange), int(d.Indicator), d.SyncState, d.DesireLeft, d.DesireRight,
			); err != nil {
				return fmt.Errorf("person %d: %w", d.ID, err)
			}
		}
	}
	for _, f := range report.Failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO failures(step,person_id,error) VALUES(?,?,?)`,
			report.Step, f.ID, f.Err.Error(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}
