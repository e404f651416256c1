package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures statement logging for gorm.
type GormLoggerConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
}

// GormLogger writes gorm statements through the request-scoped zap logger.
// Bound parameters are never logged: user ids and emails travel through them.
// Record-not-found is not an error here; stores map it to domain errors.
type GormLogger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	return &GormLogger{level: cfg.Level, slowThreshold: cfg.SlowThreshold}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) message(ctx context.Context, threshold gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.level < threshold {
		return
	}
	fields := []zap.Field{zap.String("component", "gorm")}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	if ce := FromContext(ctx).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Trace logs failed statements at error, slow ones at warn and the rest at debug.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	var (
		level zapcore.Level
		slow  bool
	)
	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) && l.level >= gormlogger.Error:
		level = zapcore.ErrorLevel
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		level, slow = zapcore.WarnLevel, true
	case l.level >= gormlogger.Info:
		level = zapcore.DebugLevel
	default:
		return
	}

	log := FromContext(ctx)
	ce := log.Check(level, "db_query")
	if ce == nil {
		return
	}

	sql, rows := fc()
	op, table := describeSQL(sql)
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("operation", op),
		zap.String("table", table),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if slow {
		fields = append(fields, zap.Bool("slow", true))
	}
	if level == zapcore.ErrorLevel {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}

// ParamsFilter drops bound values so rendered SQL keeps its placeholders.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

// describeSQL returns the statement verb and the first table it touches.
// Leading CTEs are skipped so the verb is the one the CTE feeds.
func describeSQL(sql string) (op, table string) {
	tokens := strings.Fields(strings.ToUpper(sql))
	raw := strings.Fields(sql)
	op, table = "UNKNOWN", ""

	depth := 0
	for i, token := range tokens {
		depth += strings.Count(token, "(") - strings.Count(token, ")")
		if depth > 0 || (depth == 0 && strings.Contains(token, ")")) {
			continue
		}
		word := strings.Trim(token, "(),;")
		switch word {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			if op == "UNKNOWN" {
				op = word
				if word == "UPDATE" {
					table = nameAt(raw, i+1)
				}
			}
		case "FROM", "INTO":
			if table == "" && op != "UNKNOWN" {
				table = nameAt(raw, i+1)
			}
		}
		if op != "UNKNOWN" && table != "" {
			break
		}
	}
	return op, table
}

func nameAt(tokens []string, i int) string {
	if i >= len(tokens) || strings.HasPrefix(tokens[i], "(") {
		return ""
	}
	name := tokens[i]
	if idx := strings.IndexByte(name, '('); idx >= 0 {
		name = name[:idx]
	}
	name = strings.TrimRight(name, ",;")
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.ToLower(strings.Trim(name, `"`))
}

var _ gormlogger.Interface = (*GormLogger)(nil)
