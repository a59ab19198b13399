package log

import "github.com/robfig/cron/v3"

// cronNotable maps the scheduler messages kept at info level to readable text.
// Everything else cron reports through Info ("start", "wake", "run", ...) is logged at debug.
var cronNotable = map[string]string{
	"skip":  "Scheduled run skipped, previous run still active",
	"delay": "Scheduled run delayed, previous run still active",
}

type cronLogger struct {
	l Logger
}

// CronLogger adapts l to cron.Logger.
func CronLogger(l Logger) cron.Logger {
	return cronLogger{l: l.WithName("cron")}
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	if text, ok := cronNotable[msg]; ok {
		c.l.Info(text, keysAndValues...)
		return
	}
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(err, msg, keysAndValues...)
}
