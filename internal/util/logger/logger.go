package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Log = zap.NewNop()

type Options struct {
	Level string
	// File, when set, receives a copy of the log with size based rotation.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

func Init(opts Options) error {
	logLevel := zapcore.DebugLevel
	if err := logLevel.UnmarshalText([]byte(opts.Level)); err != nil {
		return err
	}

	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(logLevel)
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	var options []zap.Option
	if opts.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotated),
			config.Level,
		)
		options = append(options, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}

	l, err := config.Build(options...)
	if err != nil {
		return err
	}
	Log = l
	zap.ReplaceGlobals(l)

	return nil
}

func Sync() error {
	if Log != nil {
		return Log.Sync()
	}
	return nil
}
