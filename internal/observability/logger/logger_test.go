package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	obscontext "github.com/smallbiznis/kinship/internal/observability/context"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestFromContextIncludesTraceAndActor(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	orig := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	defer zap.ReplaceGlobals(orig)

	traceID, _ := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	spanID, _ := trace.SpanIDFromHex("0123456789abcdef")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = obscontext.WithRequestID(ctx, "req-1")
	ctx = obscontext.WithActor(ctx, "user-42")

	FromContext(ctx).Info("hello")
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["trace_id"] != traceID.String() {
		t.Fatalf("expected trace_id %q, got %q", traceID.String(), fields["trace_id"])
	}
	if fields["span_id"] != spanID.String() {
		t.Fatalf("expected span_id %q, got %q", spanID.String(), fields["span_id"])
	}
	if fields["request_id"] != "req-1" {
		t.Fatalf("expected request_id req-1, got %q", fields["request_id"])
	}
	if fields["actor_id"] != "user-42" {
		t.Fatalf("expected actor_id user-42, got %q", fields["actor_id"])
	}
}

func TestFromContextOmitsAbsentFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	WithContext(context.Background(), zap.New(core)).Info("hello")

	fields := logs.All()[0].ContextMap()
	for _, key := range []string{"request_id", "actor_id", "trace_id", "span_id"} {
		if _, ok := fields[key]; ok {
			t.Fatalf("expected %s to be omitted, got %v", key, fields)
		}
	}
}

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql   string
		op    string
		table string
	}{
		{"SELECT * FROM follows", "SELECT", "follows"},
		{"  insert into social_events(id, event_type) values (1, 'x')", "INSERT", "social_events"},
		{"WITH x AS (SELECT 1) UPDATE subscriptions SET status = $1", "UPDATE", "subscriptions"},
		{"DELETE FROM follows WHERE follower_id = $1", "DELETE", "follows"},
		{"SELECT COUNT(*) FROM public.webhook_events", "SELECT", "webhook_events"},
		{"SELECT id FROM (SELECT id FROM follows) f", "SELECT", ""},
		{"", "UNKNOWN", ""},
	}
	for _, tc := range cases {
		op, table := describeSQL(tc.sql)
		if op != tc.op || table != tc.table {
			t.Fatalf("describeSQL(%q) = (%q, %q), want (%q, %q)", tc.sql, op, table, tc.op, tc.table)
		}
	}
}

func TestGormTraceLogsFailedStatementWithTable(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	orig := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	defer zap.ReplaceGlobals(orig)

	l := NewGormLogger(GormLoggerConfig{Level: gormlogger.Warn, SlowThreshold: time.Second})
	sql := func() (string, int64) { return "UPDATE subscriptions SET status = ? WHERE id = ?", 0 }

	l.Trace(context.Background(), time.Now(), sql, errors.New("database is locked"))
	l.Trace(context.Background(), time.Now(), sql, gormlogger.ErrRecordNotFound)
	l.Trace(context.Background(), time.Now().Add(-2*time.Second), sql, nil)

	entries := logs.FilterMessage("db_query").All()
	if len(entries) != 2 {
		t.Fatalf("expected error and slow entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.ErrorLevel || entries[0].ContextMap()["table"] != "subscriptions" {
		t.Fatalf("unexpected error entry: %v %v", entries[0].Level, entries[0].ContextMap())
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["slow"] != true {
		t.Fatalf("unexpected slow entry: %v %v", entries[1].Level, entries[1].ContextMap())
	}
}
