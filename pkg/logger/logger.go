package logger

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger представляет интерфейс для логирования
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	Sync() error
}

// Field представляет поле лога
type Field struct {
	zap.Field
}

type traceIDKey struct{}

// zapLogger реализация Logger на основе zap
type zapLogger struct {
	z *zap.Logger
}

// NewLogger создает логгер для сервиса.
//
// В окружении dev используется консольный вывод, в остальных JSON.
// Неизвестный уровень трактуется как info.
func NewLogger(environment, level, serviceName string) (Logger, error) {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	if environment == "dev" {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "time"
		encoderConfig.MessageKey = "msg"
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(zapLevel))

	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel)).
		With(
			zap.String("service", serviceName),
			zap.String("environment", environment),
		)

	return &zapLogger{z: z}, nil
}

// NewNop возвращает логгер, который ничего не пишет
func NewNop() Logger {
	return &zapLogger{z: zap.NewNop()}
}

func toZap(fields []Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = f.Field
	}
	return out
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, toZap(fields)...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, toZap(fields)...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, toZap(fields)...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, toZap(fields)...) }

// With возвращает дочерний логгер с дополнительными полями
func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(toZap(fields)...)}
}

func (l *zapLogger) Sync() error {
	return l.z.Sync()
}

// ContextWithTraceID кладет trace_id в контекст запроса
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceID извлекает trace_id из контекста
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(traceIDKey{}).(string); ok {
		return traceID
	}
	return ""
}

// CtxField возвращает поле с trace_id из контекста
func CtxField(ctx context.Context) Field {
	if traceID := TraceID(ctx); traceID != "" {
		return String("trace_id", traceID)
	}
	return String("trace_id", "unknown")
}

func String(key, val string) Field {
	return Field{zap.String(key, val)}
}

func Int(key string, val int) Field {
	return Field{zap.Int(key, val)}
}

func Int64(key string, val int64) Field {
	return Field{zap.Int64(key, val)}
}

func Float64(key string, val float64) Field {
	return Field{zap.Float64(key, val)}
}

func Bool(key string, val bool) Field {
	return Field{zap.Bool(key, val)}
}

func Duration(key string, val time.Duration) Field {
	return Field{zap.Duration(key, val)}
}

func Time(key string, val time.Time) Field {
	return Field{zap.Time(key, val)}
}

// Error создает поле с ошибкой
func Error(err error) Field {
	if err == nil {
		return Field{zap.String("error", "nil")}
	}
	return Field{zap.String("error", err.Error())}
}

// Any создает поле с любым значением
func Any(key string, val interface{}) Field {
	return Field{zap.Any(key, val)}
}
