package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"portbt/internal/logger"
	"portbt/internal/types"
)

// Registry 合约参数登记表，从 YAML 文件加载，可选热更新。
type Registry struct {
	path string

	mu          sync.RWMutex
	instruments map[string]types.Instrument

	watcher *fsnotify.Watcher
	done    chan struct{}
}

type instrumentsFile struct {
	Instruments []types.Instrument `yaml:"instruments"`
}

// Load 读取合约参数文件并构建登记表。
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, instruments: make(map[string]types.Instrument)}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("读取合约参数文件失败: %w", err)
	}
	var file instrumentsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("合约参数文件解析失败: %w", err)
	}
	if len(file.Instruments) == 0 {
		return fmt.Errorf("合约参数文件 %s 为空", r.path)
	}

	next := make(map[string]types.Instrument, len(file.Instruments))
	for _, ins := range file.Instruments {
		ins.Symbol = strings.ToUpper(ins.Symbol)
		if err := ins.Validate(); err != nil {
			return err
		}
		if _, dup := next[ins.Symbol]; dup {
			return fmt.Errorf("合约 %s 重复定义", ins.Symbol)
		}
		next[ins.Symbol] = ins
	}

	r.mu.Lock()
	r.instruments = next
	r.mu.Unlock()
	return nil
}

// Get 按 symbol 查询合约参数。
func (r *Registry) Get(symbol string) (types.Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ins, ok := r.instruments[strings.ToUpper(symbol)]
	return ins, ok
}

// All 返回全部合约参数的拷贝。
func (r *Registry) All() map[string]types.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]types.Instrument, len(r.instruments))
	for symbol, ins := range r.instruments {
		out[symbol] = ins
	}
	return out
}

// Symbols 返回升序排列的全部 symbol。
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.instruments))
	for symbol := range r.instruments {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Select 为一组 symbol 抽取合约参数表，缺失即报错。
func (r *Registry) Select(symbols []string) (map[string]types.Instrument, error) {
	out := make(map[string]types.Instrument, len(symbols))
	for _, symbol := range symbols {
		ins, ok := r.Get(symbol)
		if !ok {
			return nil, fmt.Errorf("合约参数未登记: %s", symbol)
		}
		out[strings.ToUpper(symbol)] = ins
	}
	return out, nil
}

// Watch 监听参数文件变更并自动重载，服务常驻模式使用。
func (r *Registry) Watch() error {
	if r.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// 监听所在目录而不是文件本身：编辑器通常以临时文件改名的
	// 方式保存，直接监听文件会在第一次改名后失效。
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		_ = watcher.Close()
		return err
	}
	r.watcher = watcher
	r.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(r.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.reload(); err != nil {
					logger.Warnf("合约参数热更新失败: %v", err)
					continue
				}
				logger.Infof("合约参数已热更新: %s", r.path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("合约参数文件监听异常: %v", err)
			case <-r.done:
				return
			}
		}
	}()
	return nil
}

// Close 停止监听。
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	err := r.watcher.Close()
	r.watcher = nil
	return err
}
