package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/tidwall/gjson"

	"portbt/internal/logger"
	"portbt/internal/store"
	"portbt/internal/types"
)

const fetchLimit = 1500

// BinanceImporter 从 Binance USDT 合约拉取历史 K 线写入本地仓库。
type BinanceImporter struct {
	client *futures.Client
	http   *http.Client
	store  *store.Store
}

// NewBinanceImporter 构造导入器，baseURL 为空时使用官方地址。
func NewBinanceImporter(s *store.Store, baseURL string) *BinanceImporter {
	client := futures.NewClient("", "")
	if strings.TrimSpace(baseURL) != "" {
		client.BaseURL = strings.TrimSpace(baseURL)
	}
	httpClient := &http.Client{Timeout: 15 * time.Second}
	client.HTTPClient = httpClient
	return &BinanceImporter{client: client, http: httpClient, store: s}
}

func binanceInterval(interval types.Interval) (string, error) {
	switch interval {
	case types.IntervalMinute:
		return "1m", nil
	case types.IntervalHour:
		return "1h", nil
	case types.IntervalDaily:
		return "1d", nil
	default:
		return "", fmt.Errorf("binance 不支持的周期: %s", interval)
	}
}

// ImportBars 按时间窗口分批拉取并落库，返回写入的总行数。
func (im *BinanceImporter) ImportBars(ctx context.Context, symbol string, interval types.Interval, start, end time.Time) (int, error) {
	binInterval, err := binanceInterval(interval)
	if err != nil {
		return 0, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, fmt.Errorf("symbol 不能为空")
	}

	total := 0
	cursor := start
	for cursor.Before(end) {
		kls, err := im.client.NewKlinesService().
			Symbol(symbol).
			Interval(binInterval).
			StartTime(cursor.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(fetchLimit).
			Do(ctx)
		if err != nil {
			return total, fmt.Errorf("%s 拉取K线失败: %w", symbol, err)
		}
		if len(kls) == 0 {
			break
		}

		bars := make([]types.Bar, 0, len(kls))
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			bars = append(bars, types.Bar{
				Symbol:   symbol,
				Exchange: "BINANCE",
				Time:     time.UnixMilli(kl.OpenTime),
				Open:     parseFloat(kl.Open),
				High:     parseFloat(kl.High),
				Low:      parseFloat(kl.Low),
				Close:    parseFloat(kl.Close),
				Volume:   parseFloat(kl.Volume),
			})
		}
		count, err := im.store.InsertBars(ctx, symbol, interval, bars)
		if err != nil {
			return total, err
		}
		total += count
		logger.Infof("%s 已导入 %d 根K线（累计 %d）", symbol, count, total)

		last := kls[len(kls)-1]
		next := time.UnixMilli(last.OpenTime).Add(interval.Delta())
		if !next.After(cursor) {
			break
		}
		cursor = next
	}
	return total, nil
}

// FetchInstrument 从交易所合约信息中提取最小跳动等静态参数。
func (im *BinanceImporter) FetchInstrument(ctx context.Context, symbol string) (types.Instrument, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	url := im.client.BaseURL + "/fapi/v1/exchangeInfo"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.Instrument{}, err
	}
	resp, err := im.http.Do(req)
	if err != nil {
		return types.Instrument{}, fmt.Errorf("拉取交易所合约信息失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return types.Instrument{}, fmt.Errorf("exchangeInfo 返回状态码 %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Instrument{}, err
	}

	entry := gjson.GetBytes(raw, fmt.Sprintf(`symbols.#(symbol=="%s")`, symbol))
	if !entry.Exists() {
		return types.Instrument{}, fmt.Errorf("交易所无此合约: %s", symbol)
	}
	tickSize := entry.Get(`filters.#(filterType=="PRICE_FILTER").tickSize`).Float()

	return types.Instrument{
		Symbol:    symbol,
		Exchange:  "BINANCE",
		PriceTick: tickSize,
		Size:      1,
	}, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
