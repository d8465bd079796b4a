package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"portbt/internal/logger"
	"portbt/internal/store"
	"portbt/internal/types"
)

// tick CSV 列：time, last, volume, 然后 5 档
// bid_price_1..5, ask_price_1..5, bid_volume_1..5, ask_volume_1..5。
// 盘口列可以缺省（只有前三列时盘口全 0）。
const tickBatchSize = 5000

// ImportTicksCSV 从 CSV 文件导入 tick 数据。时间列接受 RFC3339
// 或毫秒时间戳。
func ImportTicksCSV(ctx context.Context, s *store.Store, symbol, path string) (int, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, fmt.Errorf("symbol 不能为空")
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("打开tick文件失败: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	total := 0
	lineNo := 0
	batch := make([]types.Tick, 0, tickBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		count, err := s.InsertTicks(ctx, symbol, batch)
		if err != nil {
			return err
		}
		total += count
		batch = batch[:0]
		return nil
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, fmt.Errorf("第 %d 行解析失败: %w", lineNo+1, err)
		}
		lineNo++
		if lineNo == 1 && isHeader(record) {
			continue
		}
		tick, err := parseTickRecord(symbol, record)
		if err != nil {
			return total, fmt.Errorf("第 %d 行: %w", lineNo, err)
		}
		batch = append(batch, tick)
		if len(batch) >= tickBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	logger.Infof("%s tick数据导入完成，数据量：%d", symbol, total)
	return total, nil
}

func isHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
	if err == nil {
		return false
	}
	_, err = time.Parse(time.RFC3339, strings.TrimSpace(record[0]))
	return err != nil
}

func parseTickRecord(symbol string, record []string) (types.Tick, error) {
	var tick types.Tick
	if len(record) < 3 {
		return tick, fmt.Errorf("列数不足（至少 time/last/volume 三列）")
	}

	ts, err := parseTime(strings.TrimSpace(record[0]))
	if err != nil {
		return tick, err
	}
	tick.Symbol = symbol
	tick.Time = ts
	tick.LastPrice, err = parseField(record[1])
	if err != nil {
		return tick, fmt.Errorf("last 列: %w", err)
	}
	tick.Volume, err = parseField(record[2])
	if err != nil {
		return tick, fmt.Errorf("volume 列: %w", err)
	}

	groups := []*[types.Depth]float64{&tick.BidPrice, &tick.AskPrice, &tick.BidVolume, &tick.AskVolume}
	idx := 3
	for _, group := range groups {
		for i := 0; i < types.Depth; i++ {
			if idx >= len(record) {
				return tick, nil
			}
			v, err := parseField(record[idx])
			if err != nil {
				return tick, fmt.Errorf("第 %d 列: %w", idx+1, err)
			}
			group[i] = v
			idx++
		}
	}
	return tick, nil
}

func parseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("时间列格式不支持: %s", s)
	}
	return ts, nil
}

func parseField(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
