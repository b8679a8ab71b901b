package common

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragenboats logger.ILogger)
// --------------------------------------------------------------------------

// dFlowLogger writes leveled lines of the form "LEVEL | component | message"
type dFlowLogger struct {
	name   string
	level  logger.LogLevel
	output *log.Logger
}

func (l *dFlowLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *dFlowLogger) Debugf(format string, args ...interface{}) {
	l.write(logger.DEBUG, "DEBUG", format, args...)
}

func (l *dFlowLogger) Infof(format string, args ...interface{}) {
	l.write(logger.INFO, "INFO", format, args...)
}

func (l *dFlowLogger) Warningf(format string, args ...interface{}) {
	l.write(logger.WARNING, "WARN", format, args...)
}

func (l *dFlowLogger) Errorf(format string, args ...interface{}) {
	l.write(logger.ERROR, "ERROR", format, args...)
}

func (l *dFlowLogger) Panicf(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.output.Printf("%-5s | %-15s | %s", "PANIC", l.name, message)
	panic(message)
}

func (l *dFlowLogger) write(level logger.LogLevel, label string, format string, args ...interface{}) {
	if l.level < level {
		return
	}
	l.output.Printf("%-5s | %-15s | %s", label, l.name, fmt.Sprintf(format, args...))
}

// CreateLogger is the logger factory handed to dragonboat. Every component
// logs to stdout at info level until InitLoggers changes it.
func CreateLogger(pkgName string) logger.ILogger {
	return &dFlowLogger{
		name:   pkgName,
		level:  logger.INFO,
		output: log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
}

// ParseLogLevel converts a level name into a logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

var (
	// loggers of the raft library
	dragonboatComponents = []string{"raft", "raftdb", "rsm", "transport", "dragonboat", "grpc", "util", "logdb"}
	// loggers of this module
	dFlowComponents = []string{"partition", "engine", "logstream", "raftlog", "rpc", "transport/rpc"}
)

// InitLoggers installs the custom logger and sets the level of all components.
// The raft library is kept one level quieter than the engine unless debugging.
func InitLoggers(config ServerConfig) error {
	level, err := ParseLogLevel(config.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLoggerFactory(CreateLogger)

	raftLevel := level
	if level == logger.INFO {
		raftLevel = logger.WARNING
	}
	for _, name := range dragonboatComponents {
		logger.GetLogger(name).SetLevel(raftLevel)
	}
	for _, name := range dFlowComponents {
		logger.GetLogger(name).SetLevel(level)
	}
	return nil
}
