package utils

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogxManager hands out one zap logger per node. Each node writes
// info.log, error.log and debug.log under <base>/<node>/.
type LogxManager struct {
	basePath string
	stdout   bool
	level    zapcore.Level
	loggers  map[string]*zap.Logger
	files    []*os.File
	mu       sync.RWMutex
}

func NewManager(base string, stdout bool, level string) *LogxManager {
	m := &LogxManager{basePath: base, stdout: stdout, loggers: make(map[string]*zap.Logger)}
	if err := m.level.UnmarshalText([]byte(level)); err != nil || level == "" {
		m.level = zapcore.InfoLevel
	}

	if err := os.MkdirAll(m.basePath, 0744); err != nil {
		log.Printf("failed to create base log dir %s: %v", m.basePath, err)
	}
	return m
}

func (m *LogxManager) Logger(node string) *zap.Logger {
	m.mu.RLock()
	if lg, ok := m.loggers[node]; ok {
		m.mu.RUnlock()
		return lg
	}
	m.mu.RUnlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if lg, ok := m.loggers[node]; ok {
		return lg
	}
	dir := filepath.Join(m.basePath, node)
	if err := os.MkdirAll(dir, 0744); err != nil {
		log.Printf("failed to create log dir %s: %v", dir, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)

	infoOut := zapcore.AddSync(m.openLogFile(filepath.Join(dir, "info.log")))
	errorOut := zapcore.AddSync(m.openLogFile(filepath.Join(dir, "error.log")))
	dbgOut := zapcore.AddSync(m.openLogFile(filepath.Join(dir, "debug.log")))

	minLevel := m.level
	infoLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= minLevel && (l == zapcore.InfoLevel || l == zapcore.WarnLevel)
	})
	errLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= minLevel && l >= zapcore.ErrorLevel })
	dbgLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= minLevel && l == zapcore.DebugLevel })

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, infoOut, infoLv),
		zapcore.NewCore(encoder, errorOut, errLv),
		zapcore.NewCore(encoder, dbgOut, dbgLv),
	}
	if m.stdout {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), m.level))
	}
	lg := zap.New(zapcore.NewTee(cores...)).With(zap.String("node", node))
	m.loggers[node] = lg
	return lg
}

func (m *LogxManager) openLogFile(path string) *os.File {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file %s: %v", path, err)
		return os.Stdout
	}
	m.files = append(m.files, f)
	return f
}

// Close flushes every logger and closes the log files.
func (m *LogxManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lg := range m.loggers {
		_ = lg.Sync()
	}
	for _, f := range m.files {
		_ = f.Close()
	}
	m.loggers = make(map[string]*zap.Logger)
	m.files = nil
}
