package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// otlpRecord is one OTLP/JSON log record
type otlpRecord struct {
	TimeUnixNano         string         `json:"timeUnixNano"`
	ObservedTimeUnixNano string         `json:"observedTimeUnixNano"`
	SeverityNumber       int32          `json:"severityNumber"`
	SeverityText         string         `json:"severityText"`
	Body                 otlpValue      `json:"body"`
	Attributes           []otlpKeyValue `json:"attributes,omitempty"`
	TraceID              string         `json:"traceId,omitempty"`
	SpanID               string         `json:"spanId,omitempty"`
}

type otlpKeyValue struct {
	Key   string    `json:"key"`
	Value otlpValue `json:"value"`
}

// otlpValue is an OTLP AnyValue; exactly one field is set
type otlpValue struct {
	StringValue *string  `json:"stringValue,omitempty"`
	IntValue    *string  `json:"intValue,omitempty"`
	DoubleValue *float64 `json:"doubleValue,omitempty"`
	BoolValue   *bool    `json:"boolValue,omitempty"`
}

func stringValue(s string) otlpValue { return otlpValue{StringValue: &s} }

// toValue converts a value produced by zapcore.MapObjectEncoder
func toValue(v any) otlpValue {
	switch x := v.(type) {
	case string:
		return stringValue(x)
	case bool:
		return otlpValue{BoolValue: &x}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		s := fmt.Sprint(x)
		return otlpValue{IntValue: &s}
	case float32:
		f := float64(x)
		return otlpValue{DoubleValue: &f}
	case float64:
		return otlpValue{DoubleValue: &x}
	case time.Time:
		return stringValue(x.Format(time.RFC3339Nano))
	case time.Duration:
		return stringValue(x.String())
	case fmt.Stringer:
		return stringValue(x.String())
	default:
		if b, err := json.Marshal(x); err == nil {
			return stringValue(string(b))
		}
		return stringValue(fmt.Sprint(x))
	}
}

func severity(level zapcore.Level) int32 {
	switch level {
	case zapcore.DebugLevel:
		return 5
	case zapcore.InfoLevel:
		return 9
	case zapcore.WarnLevel:
		return 13
	case zapcore.ErrorLevel:
		return 17
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return 21
	default:
		return 0
	}
}

// logsEndpoint turns a collector address into its OTLP/HTTP logs URL. The
// gRPC port 4317 is swapped for the HTTP port 4318.
func logsEndpoint(addr string) string {
	if host, port, err := net.SplitHostPort(addr); err == nil && port == "4317" {
		addr = net.JoinHostPort(host, "4318")
	}
	return "http://" + addr + "/v1/logs"
}

// otlpExporter batches records and posts them to the collector. It is
// shared by every core derived through With.
type otlpExporter struct {
	endpoint    string
	serviceName string
	client      *http.Client
	batchSize   int

	mu     sync.Mutex
	buffer []otlpRecord

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newOTLPExporter(cfg *Config) *otlpExporter {
	e := &otlpExporter{
		endpoint:    logsEndpoint(cfg.OTLPEndpoint),
		serviceName: cfg.ServiceName,
		client:      &http.Client{Timeout: orDuration(cfg.OTLPTimeout, 5*time.Second)},
		batchSize:   cfg.BatchSize,
		stop:        make(chan struct{}),
	}
	if e.batchSize <= 0 {
		e.batchSize = 100
	}
	e.buffer = make([]otlpRecord, 0, e.batchSize)

	e.wg.Add(1)
	go e.loop(orDuration(cfg.BatchInterval, time.Second))
	return e
}

func orDuration(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func (e *otlpExporter) add(rec otlpRecord) {
	e.mu.Lock()
	e.buffer = append(e.buffer, rec)
	full := len(e.buffer) >= e.batchSize
	e.mu.Unlock()

	if full {
		go e.flush()
	}
}

func (e *otlpExporter) loop(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.flush()
		case <-e.stop:
			return
		}
	}
}

func (e *otlpExporter) close() {
	e.closeOnce.Do(func() {
		close(e.stop)
		e.wg.Wait()
		e.flush()
	})
}

// flush never blocks logging: export failures are reported on stderr only
func (e *otlpExporter) flush() {
	e.mu.Lock()
	if len(e.buffer) == 0 {
		e.mu.Unlock()
		return
	}
	records := e.buffer
	e.buffer = make([]otlpRecord, 0, e.batchSize)
	e.mu.Unlock()

	payload := map[string]any{
		"resourceLogs": []any{map[string]any{
			"resource": map[string]any{"attributes": []otlpKeyValue{
				{Key: "service.name", Value: stringValue(e.serviceName)},
				{Key: "service.namespace", Value: stringValue("taskflow")},
			}},
			"scopeLogs": []any{map[string]any{
				"scope":      map[string]string{"name": "go.uber.org/zap"},
				"logRecords": records,
			}},
		}},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: failed to marshal OTLP payload: %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(data))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "logger: OTLP export failed with status %d\n", resp.StatusCode)
	}
}

// otlpCore is a zapcore.Core feeding an otlpExporter
type otlpCore struct {
	zapcore.LevelEnabler
	exporter *otlpExporter
	fields   []zapcore.Field
}

func (c *otlpCore) With(fields []zapcore.Field) zapcore.Core {
	bound := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	bound = append(bound, c.fields...)
	bound = append(bound, fields...)
	return &otlpCore{LevelEnabler: c.LevelEnabler, exporter: c.exporter, fields: bound}
}

func (c *otlpCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *otlpCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	rec := otlpRecord{
		TimeUnixNano:         fmt.Sprint(ent.Time.UnixNano()),
		ObservedTimeUnixNano: fmt.Sprint(time.Now().UnixNano()),
		SeverityNumber:       severity(ent.Level),
		SeverityText:         ent.Level.CapitalString(),
		Body:                 stringValue(ent.Message),
	}
	if ent.Caller.Defined {
		rec.Attributes = append(rec.Attributes, otlpKeyValue{Key: "caller", Value: stringValue(ent.Caller.TrimmedPath())})
	}
	if ent.LoggerName != "" {
		rec.Attributes = append(rec.Attributes, otlpKeyValue{Key: "component", Value: stringValue(ent.LoggerName)})
	}
	for k, v := range enc.Fields {
		switch k {
		case string(TraceIDKey):
			rec.TraceID, _ = v.(string)
		case string(SpanIDKey):
			rec.SpanID, _ = v.(string)
		default:
			rec.Attributes = append(rec.Attributes, otlpKeyValue{Key: k, Value: toValue(v)})
		}
	}

	c.exporter.add(rec)
	return nil
}

func (c *otlpCore) Sync() error {
	c.exporter.flush()
	return nil
}
