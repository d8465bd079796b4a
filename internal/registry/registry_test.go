package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `instruments:
  - symbol: btcusdt
    exchange: BINANCE
    price_tick: 0.1
    size: 1
    rate: 0.0005
    slippage: 0.2
  - symbol: ETHUSDT
    exchange: BINANCE
    price_tick: 0.01
    size: 1
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	r, err := Load(writeFile(t, sampleYAML))
	require.NoError(t, err)

	// symbol 统一大写。
	ins, ok := r.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 0.1, ins.PriceTick)
	assert.Equal(t, 0.0005, ins.Rate)

	_, ok = r.Get("btcusdt")
	assert.True(t, ok)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, r.Symbols())
}

func TestSelect(t *testing.T) {
	r, err := Load(writeFile(t, sampleYAML))
	require.NoError(t, err)

	selected, err := r.Select([]string{"BTCUSDT"})
	require.NoError(t, err)
	assert.Len(t, selected, 1)

	_, err = r.Select([]string{"BTCUSDT", "XRPUSDT"})
	assert.Error(t, err)
}

func TestWatchSurvivesRenameReplace(t *testing.T) {
	path := writeFile(t, `instruments:
  - symbol: BTCUSDT
    size: 1
`)
	r, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, r.Watch())
	defer r.Close()

	// 模拟编辑器保存：先写临时文件再改名覆盖。
	replace := func(content string) {
		tmp := path + ".tmp"
		require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
		require.NoError(t, os.Rename(tmp, path))
	}

	replace(`instruments:
  - symbol: BTCUSDT
    size: 1
  - symbol: ETHUSDT
    size: 1
`)
	require.Eventually(t, func() bool {
		_, ok := r.Get("ETHUSDT")
		return ok
	}, 3*time.Second, 20*time.Millisecond)

	// 第一次改名覆盖后监听仍然有效。
	replace(`instruments:
  - symbol: BTCUSDT
    size: 1
  - symbol: XRPUSDT
    size: 1
`)
	require.Eventually(t, func() bool {
		_, ok := r.Get("XRPUSDT")
		return ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestLoadRejectsBadFiles(t *testing.T) {
	// 空文件。
	_, err := Load(writeFile(t, "instruments: []"))
	assert.Error(t, err)

	// 重复 symbol。
	_, err = Load(writeFile(t, `instruments:
  - symbol: BTCUSDT
    size: 1
  - symbol: btcusdt
    size: 1
`))
	assert.Error(t, err)

	// 非法参数。
	_, err = Load(writeFile(t, `instruments:
  - symbol: BTCUSDT
    size: 0
`))
	assert.Error(t, err)

	// 文件不存在。
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
