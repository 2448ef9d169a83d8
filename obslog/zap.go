package obslog

import "go.uber.org/zap"

// ZapLogger adapts a *zap.SugaredLogger to the Logger interface.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZap wraps an existing zap.Logger as a Logger.
func NewZap(base *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: base.Sugar()}
}

// NewProductionZap builds a Logger backed by zap's production configuration
// (JSON output, info level, sampling). Suitable as the default in a
// deployed gateway instance.
func NewProductionZap() (*ZapLogger, error) {
	base, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return NewZap(base), nil
}

func (l *ZapLogger) Info(msg string, kv ...any)  { l.sugar.Infow(msg, kv...) }
func (l *ZapLogger) Warn(msg string, kv ...any)  { l.sugar.Warnw(msg, kv...) }
func (l *ZapLogger) Error(msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }
func (l *ZapLogger) Debug(msg string, kv ...any) { l.sugar.Debugw(msg, kv...) }
