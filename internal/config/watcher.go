/*
ConfigWatcher 配置文件监听器

监听配置文件所在目录，配置文件被写入或替换后 (防抖 500ms) 重新加载，
并把旧配置和新配置交给注册的回调。重新加载失败时保留旧配置。
*/
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const reloadDebounce = 500 * time.Millisecond

// ReloadCallback 配置重载回调函数类型
type ReloadCallback func(oldConfig, newConfig *Config) error

// ConfigWatcher 配置文件监听器
type ConfigWatcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	role       string

	mu        sync.RWMutex
	current   *Config
	callbacks []ReloadCallback

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConfigWatcher 创建配置文件监听器，current 是当前生效的配置
func NewConfigWatcher(configPath, role string, current *Config) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ConfigWatcher{
		watcher:    watcher,
		configPath: configPath,
		role:       role,
		current:    current,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// Start 启动监听 (监听目录，编辑器常用 rename 方式保存文件)
func (cw *ConfigWatcher) Start() error {
	if err := cw.watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		return fmt.Errorf("failed to add config path to watcher: %w", err)
	}
	go cw.watchLoop()

	logrus.Infof("Config watcher started, watching file: %s", cw.configPath)
	return nil
}

// Stop 停止监听
func (cw *ConfigWatcher) Stop() error {
	cw.cancel()
	select {
	case <-cw.done:
	case <-time.After(5 * time.Second):
		logrus.Warn("Config watcher stop timeout")
	}
	return cw.watcher.Close()
}

// AddCallback 添加配置重载回调函数
func (cw *ConfigWatcher) AddCallback(callback ReloadCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// Current 当前生效的配置
func (cw *ConfigWatcher) Current() *Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.current
}

func (cw *ConfigWatcher) watchLoop() {
	defer close(cw.done)

	// 防抖动定时器
	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}

	for {
		select {
		case <-cw.ctx.Done():
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(cw.configPath) {
				continue
			}
			debounceTimer.Reset(reloadDebounce)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logrus.Warnf("Config watcher error: %v", err)

		case <-debounceTimer.C:
			if err := cw.reload(); err != nil {
				logrus.Errorf("Failed to reload config: %v", err)
			}
		}
	}
}

// reload 重新加载并校验，通过后再替换当前配置并执行回调
func (cw *ConfigWatcher) reload() error {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}
	if err := newConfig.Validate(cw.role); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	cw.mu.Lock()
	oldConfig := cw.current
	cw.current = newConfig
	callbacks := make([]ReloadCallback, len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	for _, callback := range callbacks {
		if err := callback(oldConfig, newConfig); err != nil {
			// 继续执行其他回调
			logrus.Errorf("Config reload callback error: %v", err)
		}
	}
	logrus.Info("Config reloaded successfully")
	return nil
}
