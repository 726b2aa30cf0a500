package common

import (
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"log"
	"os"
	"strings"
)

// LogLevelEnv overrides the configured log level when set
const LogLevelEnv = "DPORT_LOG_LEVEL"

// LoggerNames lists every logger the port packages use
var LoggerNames = []string{"port", "port/core", "port/protocol", "carrier", "transport", "names"}

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// dPortLogger implements the ILogger interface with custom formatting
type dPortLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *dPortLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *dPortLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *dPortLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *dPortLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *dPortLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *dPortLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

// log formats and writes a log message. this internal helper is used by the public methods
func (l *dPortLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger implements the dragonboat logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	// log to stderr, stdout carries bottles for the read command
	stdLogger := log.New(os.Stderr, "", log.Ldate|log.Ltime)

	return &dPortLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: stdLogger,
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, NewError(CodeConfiguration, nil, "invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// InitLoggers installs the custom factory and applies the configured level
// (or the DPORT_LOG_LEVEL environment variable) to all port loggers.
// It must be called before the first logger.GetLogger call to take effect
// for the format.
func InitLoggers(config PortConfig) error {
	levelStr := config.LogLevel
	if env := os.Getenv(LogLevelEnv); env != "" {
		levelStr = env
	}
	level, err := ParseLogLevel(levelStr)
	if err != nil {
		return err
	}

	// Set as the global logger factory
	logger.SetLoggerFactory(CreateLogger)

	for _, name := range LoggerNames {
		logger.GetLogger(name).SetLevel(level)
	}
	return nil
}
