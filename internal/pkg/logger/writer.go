package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
)

// LogWriter gorm 日志输出, 与 zap 共用同一个目标
type LogWriter struct {
	zapcore.WriteSyncer
}

func (l *LogWriter) Printf(format string, args ...interface{}) {
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	_, _ = l.WriteSyncer.Write([]byte("[gorm] " + line + "\n"))
}

// GetWriter 未初始化时写到 stdout
func GetWriter() *LogWriter {
	if logWriter == nil {
		return &LogWriter{zapcore.AddSync(os.Stdout)}
	}
	return logWriter
}
