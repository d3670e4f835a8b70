package ffmpeg

import (
	"strings"
	"sync"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/cadence/internal/logger"
)

var logOnce sync.Once

// forwardLogs sends libav's log lines to log. Only the first call installs
// the callback; libav has one process-wide logger.
func forwardLogs(log logger.Logger) {
	logOnce.Do(func() {
		astiav.SetLogLevel(astiav.LogLevelWarning)
		astiav.SetLogCallback(func(c astiav.Classer, l astiav.LogLevel, fmt, msg string) {
			msg = strings.TrimSpace(msg)
			if msg == "" {
				return
			}
			switch {
			case l <= astiav.LogLevelError:
				log.Error(msg)
			case l <= astiav.LogLevelWarning:
				log.Warn(msg)
			default:
				log.Debug(msg)
			}
		})
	})
}
