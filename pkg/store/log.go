package store

import "github.com/sirupsen/logrus"

// 存储层只依赖 logrus，进程入口通过 SetLogger 注入配置好的实例
var log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger 替换存储层使用的 logger，需在构造后端之前调用
func SetLogger(l logrus.FieldLogger) {
	if l != nil {
		log = l
	}
}
