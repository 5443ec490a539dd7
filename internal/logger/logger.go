package logger

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var currentLevel atomic.Int32

func init() {
	currentLevel.Store(int32(INFO))
}

// ParseLevel converte LOG_LEVEL em Level; valores desconhecidos viram INFO
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// InitLogger inicializa o logger com o nível especificado
func InitLogger(level string) {
	currentLevel.Store(int32(ParseLevel(level)))
}

func Enabled(l Level) bool {
	return Level(currentLevel.Load()) <= l
}

func Debug(format string, v ...interface{}) {
	if Enabled(DEBUG) {
		log.Printf("[DEBUG] "+format, v...)
	}
}

func Info(format string, v ...interface{}) {
	if Enabled(INFO) {
		log.Printf("[INFO] "+format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	if Enabled(WARN) {
		log.Printf("[WARN] "+format, v...)
	}
}

// Error sempre loga (nível mais alto)
func Error(format string, v ...interface{}) {
	log.Printf("[ERROR] "+format, v...)
}

func Fatalf(format string, v ...interface{}) {
	log.Fatalf(format, v...)
}

// Fields formata pares chave/valor como "k: v | k: v", ordenados pela chave
func Fields(kv map[string]any) string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, kv[k]))
	}
	return strings.Join(parts, " | ")
}

// SetOutput permite redirecionar os logs (os testes usam um buffer)
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
