package logger

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// FormatTimestamp 日志之外的模块 (健康检查、CLI) 使用的时间格式
func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05.000")
}

func NowFormatted() string {
	return FormatTimestamp(time.Now())
}

// LogType 日志类型，FileHook 按它分流文件
type LogType string

const (
	// AccessLog 访问日志 - HTTP 请求
	AccessLog LogType = "access"
	// BusinessLog 业务日志 - 注册、离线、终止等操作
	BusinessLog LogType = "business"
	ErrorLog    LogType = "error"
	// SystemLog 系统日志 - 组件启动、关闭
	SystemLog LogType = "system"
)

// AccessLogMiddleware gin 访问日志中间件
func AccessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		LogAccessRequest(c, start)
	}
}

// LogAccessRequest 记录HTTP访问日志
func LogAccessRequest(c *gin.Context, startTime time.Time) {
	current().WithFields(logrus.Fields{
		"type":          AccessLog,
		"method":        c.Request.Method,
		"path":          c.Request.URL.Path,
		"query":         c.Request.URL.RawQuery,
		"status_code":   c.Writer.Status(),
		"response_time": time.Since(startTime).Milliseconds(),
		"client_ip":     c.ClientIP(),
		"user_agent":    c.Request.UserAgent(),
		"request_size":  c.Request.ContentLength,
		"response_size": c.Writer.Size(),
	}).Info("HTTP request processed")
}

// LogBusinessOperation 记录业务操作日志
// result 为 success 时记 Info，其余记 Warn
func LogBusinessOperation(operation, target, clientIP, result, message string, extraFields map[string]interface{}) {
	fields := logrus.Fields{
		"type":      BusinessLog,
		"operation": operation,
		"target":    target,
		"client_ip": clientIP,
		"result":    result,
	}
	for k, v := range extraFields {
		fields[k] = v
	}

	entry := current().WithFields(fields)
	if result == "success" {
		entry.Info(message)
	} else {
		entry.Warn(message)
	}
}

// LogError 记录错误日志
func LogError(err error, component string, extraFields map[string]interface{}) {
	if err == nil {
		return
	}
	fields := logrus.Fields{
		"type":      ErrorLog,
		"component": component,
		"error":     err.Error(),
	}
	for k, v := range extraFields {
		fields[k] = v
	}
	current().WithFields(fields).Errorf("%s error: %v", component, err)
}

// LogSystemEvent 记录系统事件日志
func LogSystemEvent(component, event, message string, level logrus.Level, extraFields map[string]interface{}) {
	fields := logrus.Fields{
		"type":      SystemLog,
		"component": component,
		"event":     event,
	}
	for k, v := range extraFields {
		fields[k] = v
	}

	msg := fmt.Sprintf("System event: %s - %s: %s", component, event, message)
	current().WithFields(fields).Log(level, msg)
}
