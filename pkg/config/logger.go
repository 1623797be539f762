package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
	"github.com/askiada/go-orchestrator/pkg/pipeline/observe"
)

// NewObserver returns the observer logging the runs to w, as configured.
func (c *Config) NewObserver(w io.Writer) (model.Observer, error) {
	switch c.Log.Backend {
	case "zap", "":
		log, err := c.NewZap(w)
		if err != nil {
			return nil, err
		}

		return observe.Zap(log), nil
	case "zerolog":
		log, err := c.NewZerolog(w)
		if err != nil {
			return nil, err
		}

		return observe.Zerolog(log), nil
	case "none":
		return model.NopObserver{}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown log backend %q", c.Log.Backend)
	}
}

// NewZap returns a zap logger writing to w. A nil w writes to stderr.
func (c *Config) NewZap(w io.Writer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.level())
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown log level %q", c.Log.Level)
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)
	if c.Log.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(writer(w)), level)), nil
}

// NewZerolog returns a zerolog logger writing to w. A nil w writes to stderr.
func (c *Config) NewZerolog(w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(c.level())
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(ErrInvalidConfig, "unknown log level %q", c.Log.Level)
	}
	out := writer(w)
	if c.Log.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, NoColor: true}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

func (c *Config) level() string {
	if c.Log.Level == "" {
		return "info"
	}

	return c.Log.Level
}

func writer(w io.Writer) io.Writer {
	if w == nil {
		return os.Stderr
	}

	return w
}
