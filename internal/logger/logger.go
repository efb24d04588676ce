// Package logger пишет логи с префиксом сервиса через фоновую горутину,
// чтобы запросы и live-подписки не ждали вывода. Уровень задаётся LOG_LEVEL или SetLevel.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	asyncBufferSize = 8192
	slowThreshold   = 100 * time.Millisecond
)

type level int32

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

var (
	prefix   atomic.Value
	logLevel atomic.Int32
	dropped  atomic.Int64
	ch       chan string
	once     sync.Once
)

func init() {
	logLevel.Store(int32(parseLevel(os.Getenv("LOG_LEVEL"))))
}

func parseLevel(s string) level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func initWorker() {
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(l level, msg string) {
	if l < level(logLevel.Load()) {
		return
	}
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		dropped.Add(1)
	}
}

// SetPrefix задаёт префикс для всех последующих логов (например "api").
func SetPrefix(p string) {
	prefix.Store(p)
}

// SetLevel переопределяет уровень из конфигурации: debug, info, warn, error.
func SetLevel(s string) {
	logLevel.Store(int32(parseLevel(s)))
}

// DebugEnabled сообщает, пишутся ли debug-сообщения.
func DebugEnabled() bool {
	return level(logLevel.Load()) == levelDebug
}

// Dropped возвращает число сообщений, потерянных из-за переполнения буфера.
func Dropped() int64 {
	return dropped.Load()
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

func Debugf(format string, v ...any) {
	enqueue(levelDebug, tag()+"DEBUG: "+fmt.Sprintf(format, v...))
}

// Info пишет в log с префиксом (асинхронно).
func Info(v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprint(v...))
}

// Infof форматирует и пишет с префиксом (асинхронно).
func Infof(format string, v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	enqueue(levelWarn, tag()+"WARN: "+fmt.Sprintf(format, v...))
}

// Error пишет ошибку с префиксом (асинхронно).
func Error(v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprint(v...))
}

// Errorf форматирует ошибку с префиксом (асинхронно).
func Errorf(format string, v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprintf(format, v...))
}

// LogDuration логирует имя операции и время выполнения в миллисекундах.
// На уровне info пишутся только вызовы дольше 100ms, на debug все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if DebugEnabled() || elapsed >= slowThreshold {
		enqueue(levelInfo, fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration возвращает функцию для defer: defer logger.DeferLogDuration("userRepo.Get", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
