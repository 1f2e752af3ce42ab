package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"algohub/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileHook 按日志的 type 字段把日志写入不同的滚动文件
type FileHook struct {
	logConfig *config.LogConfig
	writers   map[string]io.Writer
	formatter logrus.Formatter
	mutex     sync.Mutex
}

// NewFileHook 创建一个新的FileHook实例
func NewFileHook(logConfig *config.LogConfig) *FileHook {
	hook := &FileHook{
		logConfig: logConfig,
		writers:   make(map[string]io.Writer),
		formatter: &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		},
	}
	if logConfig.FilePath != "" {
		hook.writers["default"] = hook.newWriter(logConfig.FilePath)
	}
	return hook
}

func (hook *FileHook) newWriter(filename string) io.Writer {
	_ = os.MkdirAll(filepath.Dir(filename), 0o755)
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    hook.logConfig.MaxSize,
		MaxBackups: hook.logConfig.MaxBackups,
		MaxAge:     hook.logConfig.MaxAge,
		Compress:   hook.logConfig.Compress,
	}
}

// Levels 返回此Hook关心的所有日志级别
func (hook *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 在日志触发时执行
func (hook *FileHook) Fire(entry *logrus.Entry) error {
	logType := "default"
	if lt, ok := entry.Data["type"]; ok {
		switch t := lt.(type) {
		case LogType:
			logType = string(t)
		case string:
			logType = t
		}
	}
	// error 以上级别额外写一份到 error.log
	if entry.Level <= logrus.ErrorLevel && logType != string(ErrorLog) {
		if err := hook.write(string(ErrorLog), entry); err != nil {
			return err
		}
	}
	return hook.write(logType, entry)
}

func (hook *FileHook) write(logType string, entry *logrus.Entry) error {
	formatted, err := hook.formatter.Format(entry)
	if err != nil {
		return err
	}

	hook.mutex.Lock()
	defer hook.mutex.Unlock()

	writer := hook.getWriter(logType)
	if writer == nil {
		return nil
	}
	_, err = writer.Write(formatted)
	return err
}

// getWriter 获取指定类型的writer，如果不存在则创建 (调用方持有锁)
func (hook *FileHook) getWriter(logType string) io.Writer {
	if writer, exists := hook.writers[logType]; exists {
		return writer
	}

	switch LogType(logType) {
	case AccessLog, BusinessLog, ErrorLog, SystemLog:
	default:
		return hook.writers["default"]
	}

	logDir := filepath.Dir(hook.logConfig.FilePath)
	writer := hook.newWriter(filepath.Join(logDir, logType+".log"))
	hook.writers[logType] = writer
	return writer
}
