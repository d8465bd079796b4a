package chart

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"portbt/internal/engine"
)

const (
	colorBalance  = "#3b82f6"
	colorDrawdown = "#f87171"
	colorPnL      = "#a78bfa"
	colorHist     = "#34d399"

	chartWidthPx  = 1200
	chartHeightPx = 360
	histogramBins = 50
)

// RenderHTML 生成四联图回测报告：资金曲线、回撤、日度盈亏、盈亏分布。
func RenderHTML(title string, rows []engine.DailyRow) ([]byte, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("日度结果为空，无法绘图")
	}

	xAxis := make([]string, len(rows))
	balance := make([]opts.LineData, len(rows))
	drawdown := make([]opts.LineData, len(rows))
	pnl := make([]opts.BarData, len(rows))
	for i, row := range rows {
		xAxis[i] = row.Date.Format(time.DateOnly)
		balance[i] = opts.LineData{Value: row.Balance}
		drawdown[i] = opts.LineData{Value: row.Drawdown}
		color := colorHist
		if row.NetPnL < 0 {
			color = colorDrawdown
		}
		pnl[i] = opts.BarData{Value: row.NetPnL, ItemStyle: &opts.ItemStyle{Color: color}}
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = title

	page.AddCharts(
		buildLine("Balance", title, xAxis, balance, colorBalance, false),
		buildLine("Drawdown", "", xAxis, drawdown, colorDrawdown, true),
		buildPnLBar(xAxis, pnl),
		buildHistogram(rows),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteHTML 渲染报告并写入文件。
func WriteHTML(path, title string, rows []engine.DailyRow) error {
	html, err := RenderHTML(title, rows)
	if err != nil {
		return err
	}
	return os.WriteFile(path, html, 0o644)
}

func buildLine(name, title string, xAxis []string, data []opts.LineData, color string, area bool) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  fmt.Sprintf("%dpx", chartWidthPx),
			Height: fmt.Sprintf("%dpx", chartHeightPx),
		}),
		charts.WithTitleOpts(opts.Title{Title: titleOr(name, title), Left: "left"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
	)
	line.SetXAxis(xAxis)
	series := []charts.SeriesOpts{
		charts.WithLineStyleOpts(opts.LineStyle{Color: color, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	}
	if area {
		series = append(series, charts.WithAreaStyleOpts(opts.AreaStyle{Color: color, Opacity: opts.Float(0.3)}))
	}
	line.AddSeries(name, data, series...)
	return line
}

func titleOr(name, title string) string {
	if title != "" {
		return fmt.Sprintf("%s（%s）", name, title)
	}
	return name
}

func buildPnLBar(xAxis []string, data []opts.BarData) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  fmt.Sprintf("%dpx", chartWidthPx),
			Height: fmt.Sprintf("%dpx", chartHeightPx),
		}),
		charts.WithTitleOpts(opts.Title{Title: "Daily PnL", Left: "left"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
	)
	bar.SetXAxis(xAxis)
	bar.AddSeries("Daily PnL", data)
	return bar
}

// buildHistogram 日度盈亏分布直方图，等宽分桶。
func buildHistogram(rows []engine.DailyRow) *charts.Bar {
	minPnL, maxPnL := rows[0].NetPnL, rows[0].NetPnL
	for _, row := range rows {
		minPnL = math.Min(minPnL, row.NetPnL)
		maxPnL = math.Max(maxPnL, row.NetPnL)
	}
	width := (maxPnL - minPnL) / histogramBins
	if width <= 0 {
		width = 1
	}
	counts := make([]int, histogramBins)
	for _, row := range rows {
		i := int((row.NetPnL - minPnL) / width)
		if i >= histogramBins {
			i = histogramBins - 1
		}
		counts[i]++
	}

	xAxis := make([]string, histogramBins)
	data := make([]opts.BarData, histogramBins)
	for i, c := range counts {
		xAxis[i] = fmt.Sprintf("%.0f", minPnL+(float64(i)+0.5)*width)
		data[i] = opts.BarData{Value: c, ItemStyle: &opts.ItemStyle{Color: colorPnL, Opacity: opts.Float(0.8)}}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  fmt.Sprintf("%dpx", chartWidthPx),
			Height: fmt.Sprintf("%dpx", chartHeightPx),
		}),
		charts.WithTitleOpts(opts.Title{Title: "Daily PnL Distribution", Left: "left"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
	)
	bar.SetXAxis(xAxis)
	bar.AddSeries("Days", data)
	return bar
}

// SnapshotPNG 用无头浏览器把报告渲染为 PNG。
func SnapshotPNG(ctx context.Context, html []byte) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(chartWidthPx+80, 4*(chartHeightPx+60)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}

// WritePNG 渲染报告并截图写入文件。
func WritePNG(ctx context.Context, path, title string, rows []engine.DailyRow) error {
	html, err := RenderHTML(title, rows)
	if err != nil {
		return err
	}
	png, err := SnapshotPNG(ctx, html)
	if err != nil {
		return err
	}
	return os.WriteFile(path, png, 0o644)
}
