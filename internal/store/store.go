package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"portbt/internal/types"
)

// Manifest 记录某个 symbol 数据文件的统计信息。
type Manifest struct {
	Symbol     string `json:"symbol"`
	BarRows    int64  `json:"bar_rows"`
	TickRows   int64  `json:"tick_rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// Store 历史行情仓库，每个合约一个 sqlite 文件。
// 实现 engine.Repository：区间内无数据时返回空切片而非错误。
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// New 打开（必要时创建）数据根目录。
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("data root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

// Close 关闭全部已打开的数据库。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for key, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, key)
	}
	return firstErr
}

func (s *Store) db(symbol string) (*sql.DB, string, error) {
	if symbol == "" {
		return nil, "", fmt.Errorf("symbol 不能为空")
	}
	key := strings.ToUpper(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok {
		return db, s.dbPath(symbol), nil
	}
	path := s.dbPath(symbol)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, symbol); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *Store) dbPath(symbol string) string {
	return filepath.Join(s.root, strings.ToUpper(symbol)+".db")
}

func ensureSchema(db *sql.DB, symbol string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			interval TEXT NOT NULL,
			ts       INTEGER NOT NULL,
			exchange TEXT NOT NULL DEFAULT '',
			open     REAL NOT NULL,
			high     REAL NOT NULL,
			low      REAL NOT NULL,
			close    REAL NOT NULL,
			volume   REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (interval, ts)
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			ts        INTEGER PRIMARY KEY,
			exchange  TEXT NOT NULL DEFAULT '',
			last      REAL NOT NULL,
			volume    REAL NOT NULL DEFAULT 0,
			bp1 REAL DEFAULT 0, bp2 REAL DEFAULT 0, bp3 REAL DEFAULT 0, bp4 REAL DEFAULT 0, bp5 REAL DEFAULT 0,
			ap1 REAL DEFAULT 0, ap2 REAL DEFAULT 0, ap3 REAL DEFAULT 0, ap4 REAL DEFAULT 0, ap5 REAL DEFAULT 0,
			bv1 REAL DEFAULT 0, bv2 REAL DEFAULT 0, bv3 REAL DEFAULT 0, bv4 REAL DEFAULT 0, bv5 REAL DEFAULT 0,
			av1 REAL DEFAULT 0, av2 REAL DEFAULT 0, av3 REAL DEFAULT 0, av4 REAL DEFAULT 0, av5 REAL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			symbol TEXT NOT NULL,
			bar_rows INTEGER DEFAULT 0,
			tick_rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
		`INSERT INTO manifest (id, symbol) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol;`,
	}
	for i, stmt := range stmts {
		var err error
		if i == len(stmts)-1 {
			_, err = db.Exec(stmt, strings.ToUpper(symbol))
		} else {
			_, err = db.Exec(stmt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertBars 批量写入 K 线（重复时间戳将被覆盖）。
func (s *Store) InsertBars(ctx context.Context, symbol string, interval types.Interval, bars []types.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	db, _, err := s.db(symbol)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (interval, ts, exchange, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(interval, ts) DO UPDATE SET
		    exchange=excluded.exchange,
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, string(interval), b.Time.UnixMilli(), b.Exchange, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, s.refreshManifest(ctx, db)
}

// InsertTicks 批量写入 tick（重复时间戳将被覆盖）。
func (s *Store) InsertTicks(ctx context.Context, symbol string, ticks []types.Tick) (int, error) {
	if len(ticks) == 0 {
		return 0, nil
	}
	db, _, err := s.db(symbol)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO ticks (
			ts, exchange, last, volume,
			bp1, bp2, bp3, bp4, bp5,
			ap1, ap2, ap3, ap4, ap5,
			bv1, bv2, bv3, bv4, bv5,
			av1, av2, av3, av4, av5
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, t := range ticks {
		args := []any{t.Time.UnixMilli(), t.Exchange, t.LastPrice, t.Volume}
		for i := 0; i < types.Depth; i++ {
			args = append(args, t.BidPrice[i])
		}
		for i := 0; i < types.Depth; i++ {
			args = append(args, t.AskPrice[i])
		}
		for i := 0; i < types.Depth; i++ {
			args = append(args, t.BidVolume[i])
		}
		for i := 0; i < types.Depth; i++ {
			args = append(args, t.AskVolume[i])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, s.refreshManifest(ctx, db)
}

// LoadBars 读取指定区间的 K 线（时间闭区间，升序）。
func (s *Store) LoadBars(ctx context.Context, symbol string, interval types.Interval, start, end time.Time) ([]types.Bar, error) {
	db, _, err := s.db(symbol)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT ts, exchange, open, high, low, close, volume
		FROM bars
		WHERE interval = ? AND ts BETWEEN ? AND ?
		ORDER BY ts ASC`, string(interval), start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []types.Bar{}
	for rows.Next() {
		var (
			ts  int64
			bar types.Bar
		)
		if err := rows.Scan(&ts, &bar.Exchange, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, err
		}
		bar.Symbol = strings.ToUpper(symbol)
		bar.Time = time.UnixMilli(ts)
		out = append(out, bar)
	}
	return out, rows.Err()
}

// LoadTicks 读取指定区间的 tick（时间闭区间，升序）。
func (s *Store) LoadTicks(ctx context.Context, symbol string, start, end time.Time) ([]types.Tick, error) {
	db, _, err := s.db(symbol)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT ts, exchange, last, volume,
		       bp1, bp2, bp3, bp4, bp5,
		       ap1, ap2, ap3, ap4, ap5,
		       bv1, bv2, bv3, bv4, bv5,
		       av1, av2, av3, av4, av5
		FROM ticks
		WHERE ts BETWEEN ? AND ?
		ORDER BY ts ASC`, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []types.Tick{}
	for rows.Next() {
		var (
			ts   int64
			tick types.Tick
		)
		dest := []any{&ts, &tick.Exchange, &tick.LastPrice, &tick.Volume}
		for i := 0; i < types.Depth; i++ {
			dest = append(dest, &tick.BidPrice[i])
		}
		for i := 0; i < types.Depth; i++ {
			dest = append(dest, &tick.AskPrice[i])
		}
		for i := 0; i < types.Depth; i++ {
			dest = append(dest, &tick.BidVolume[i])
		}
		for i := 0; i < types.Depth; i++ {
			dest = append(dest, &tick.AskVolume[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		tick.Symbol = strings.ToUpper(symbol)
		tick.Time = time.UnixMilli(ts)
		out = append(out, tick)
	}
	return out, rows.Err()
}

// Manifest 返回合约数据文件的统计信息。
func (s *Store) Manifest(ctx context.Context, symbol string) (Manifest, error) {
	db, path, err := s.db(symbol)
	if err != nil {
		return Manifest{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT symbol, bar_rows, tick_rows, COALESCE(last_sync_at, 0) FROM manifest WHERE id=1`)
	var m Manifest
	if err := row.Scan(&m.Symbol, &m.BarRows, &m.TickRows, &m.LastSyncAt); err != nil {
		return Manifest{}, err
	}
	m.Path = path
	return m, nil
}

func (s *Store) refreshManifest(ctx context.Context, db *sql.DB) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET bar_rows = (SELECT COUNT(1) FROM bars),
		    tick_rows = (SELECT COUNT(1) FROM ticks),
		    last_sync_at = ?
		WHERE id = 1`, now)
	return err
}
