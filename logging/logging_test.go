package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"tiny-rpc/config"
)

func TestNew(t *testing.T) {
	cases := []struct {
		cfg  config.LogConfig
		want zapcore.Level
	}{
		{config.LogConfig{}, zapcore.InfoLevel},
		{config.LogConfig{Level: "debug"}, zapcore.DebugLevel},
		{config.LogConfig{Level: "WARN", Development: true}, zapcore.WarnLevel},
	}
	for _, tc := range cases {
		logger, err := New(tc.cfg)
		if err != nil {
			t.Fatalf("%+v: %v", tc.cfg, err)
		}
		if !logger.Core().Enabled(tc.want) || (tc.want > zapcore.DebugLevel && logger.Core().Enabled(tc.want-1)) {
			t.Errorf("%+v: expect level %v", tc.cfg, tc.want)
		}
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatal("expect error for unknown level")
	}
}
