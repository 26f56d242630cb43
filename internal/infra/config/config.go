// Пакет config отвечает за сбор и предоставление конфигурации бота.
// Он:
//  1. читает переменные окружения из .env (через godotenv), если файл есть,
//  2. нормализует и валидирует значения, подставляя дефолты,
//  3. копит предупреждения о подставленных значениях (их выводит main),
//  4. хранит результат в singleton, доступном через Env().
//
// Единственный обязательный параметр — BOT_TOKEN. Учётные данные Telegram‑приложения
// (api_id/api_hash) здесь не задаются: их присылает каждый пользователь командой /connect.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Поддерживаемые драйверы хранилища учётных данных.
const (
	StoreDriverBolt  = "bolt"
	StoreDriverRedis = "redis"
)

// EnvConfig описывает параметры, приходящие из окружения (.env).
// Значения уже прошли нормализацию в loadConfig.
type EnvConfig struct {
	BotToken string
	LogLevel string
	// Хранилище учётных данных
	StoreDriver   string
	StoreFile     string
	StoreSecret   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// MTProto‑клиенты пользователей
	TestDC              bool
	ThrottleRPS         int
	FloodWaitMaxRetries int
	AuthTimeoutSec      int
	PendingLoginTTLSec  int
	// Групповые операции и бот
	MaxGroups      int
	PollTimeoutSec int
	// Файловое логирование
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
}

// Config хранит конфигурацию среды и предупреждения, накопленные при загрузке.
type Config struct {
	Env      EnvConfig
	warnings []string
	mu       sync.RWMutex
}

// Значения по умолчанию.
const (
	defaultLogLevel            = "info"
	defaultStoreDriver         = StoreDriverBolt
	defaultStoreFile           = "data/users.bbolt"
	defaultRedisAddr           = "127.0.0.1:6379"
	defaultRedisDB             = 0
	defaultThrottleRPS         = 2
	defaultFloodWaitMaxRetries = 3
	defaultAuthTimeoutSec      = 60
	defaultPendingLoginTTLSec  = 600
	defaultMaxGroups           = 50
	defaultPollTimeoutSec      = 60
	// Файловое логирование (LOG_FILE без дефолта — включается явно)
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
)

var (
	cfgInstance *Config
	cfgMu       sync.Mutex
)

// Load — точка входа для инициализации глобальной конфигурации.
// Повторный вызов запрещён, чтобы избежать гонок конфигурации на старте.
func Load(envPath string) error {
	cfgMu.Lock()
	defer cfgMu.Unlock()

	if cfgInstance != nil {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	return nil
}

// loadConfig выполняет фактическую загрузку без установки глобального состояния.
// Отсутствующий .env не ошибка: переменные могут прийти из окружения процесса.
func loadConfig(envPath string) (*Config, error) {
	var warnings []string

	if strings.TrimSpace(envPath) != "" {
		if err := loadDotEnv(envPath); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env: %w", err)
			}
			appendWarningf(&warnings, "env file %q not found; using process environment", envPath)
		}
	}

	botToken := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if botToken == "" {
		return nil, errors.New("env BOT_TOKEN must be set")
	}

	storeDriver := sanitizeStoreDriver(os.Getenv("STORE_DRIVER"), &warnings)

	env := EnvConfig{
		BotToken:            botToken,
		LogLevel:            sanitizeLogLevel("LOG_LEVEL", os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings),
		StoreDriver:         storeDriver,
		StoreFile:           sanitizeFile("STORE_FILE", os.Getenv("STORE_FILE"), defaultStoreFile, &warnings),
		StoreSecret:         os.Getenv("STORE_SECRET"),
		RedisAddr:           defaultRedisAddr,
		RedisDB:             defaultRedisDB,
		TestDC:              strings.EqualFold(strings.TrimSpace(os.Getenv("TEST_DC")), "true"),
		ThrottleRPS:         parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings),
		FloodWaitMaxRetries: parseIntDefault("FLOOD_WAIT_MAX_RETRIES", defaultFloodWaitMaxRetries, nonNegative, &warnings),
		AuthTimeoutSec:      parseIntDefault("AUTH_TIMEOUT_SEC", defaultAuthTimeoutSec, greaterThanZero, &warnings),
		PendingLoginTTLSec:  parseIntDefault("PENDING_LOGIN_TTL_SEC", defaultPendingLoginTTLSec, greaterThanZero, &warnings),
		MaxGroups:           parseIntDefault("MAX_GROUPS", defaultMaxGroups, greaterThanZero, &warnings),
		PollTimeoutSec:      parseIntDefault("POLL_TIMEOUT_SEC", defaultPollTimeoutSec, greaterThanZero, &warnings),
		LogFile:             strings.TrimSpace(os.Getenv("LOG_FILE")),
		LogFileLevel:        sanitizeLogLevel("LOG_FILE_LEVEL", os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings),
		LogFileMaxSize:      parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings),
		LogFileMaxBackups:   parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings),
		LogFileMaxAge:       parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings),
		LogFileCompress:     parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings),
	}

	// Параметры redis имеют смысл только для соответствующего драйвера: без него не шумим.
	if storeDriver == StoreDriverRedis {
		env.RedisAddr = sanitizeFile("REDIS_ADDR", os.Getenv("REDIS_ADDR"), defaultRedisAddr, &warnings)
		env.RedisPassword = os.Getenv("REDIS_PASSWORD")
		env.RedisDB = parseIntDefault("REDIS_DB", defaultRedisDB, nonNegative, &warnings)
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// loadDotEnv подмешивает .env в окружение процесса. Уже заданные переменные не перетираются.
func loadDotEnv(path string) error {
	return godotenv.Load(path)
}

// Warnings возвращает копию предупреждений, накопленных при загрузке.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает снимок EnvConfig из глобального singleton.
func Env() EnvConfig {
	return cfgInstance.Env
}

// parseIntDefault читает name как int. Пустое/некорректное/не прошедшее validator значение
// заменяется на defaultVal с предупреждением.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf накапливает предупреждение о некорректной переменной окружения.
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

// parseBoolDefault читает name как bool; пустое/некорректное — defaultVal с предупреждением.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// sanitizeLogLevel ограничивает значение набором {debug, info, warn, error}.
func sanitizeLogLevel(name, level, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env %s value %q is invalid; using default %q", name, level, defaultVal)
		return defaultVal
	}
}

// sanitizeStoreDriver выбирает backend хранилища (bolt|redis).
func sanitizeStoreDriver(value string, warnings *[]string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "":
		appendWarningf(warnings, "env STORE_DRIVER is not set; using default %q", defaultStoreDriver)
		return defaultStoreDriver
	case StoreDriverBolt, StoreDriverRedis:
		return v
	default:
		appendWarningf(warnings, "env STORE_DRIVER value %q is invalid; using default %q", value, defaultStoreDriver)
		return defaultStoreDriver
	}
}

// sanitizeFile возвращает непустое значение или fallback с предупреждением.
func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}
