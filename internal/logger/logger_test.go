package logger

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitLogLevels(t *testing.T) {
	cases := []struct {
		input   string
		want    log.Level
		wantErr bool
	}{
		{"debug", log.DebugLevel, false},
		{" WARN ", log.WarnLevel, false},
		{"warning", log.WarnLevel, false},
		{"bogus", log.InfoLevel, true},
	}

	for _, tc := range cases {
		err := InitLog(tc.input, false)
		if (err != nil) != tc.wantErr {
			t.Fatalf("InitLog(%q) err=%v, wantErr=%t", tc.input, err, tc.wantErr)
		}
		if got := log.GetLevel(); got != tc.want {
			t.Fatalf("InitLog(%q) level=%s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestCategoryLoggersUsableBeforeInit(t *testing.T) {
	if CodecLog == nil || DispatcherLog == nil || SessionLog == nil {
		t.Fatal("category loggers must be initialised at package load")
	}
	if got := DispatcherLog.Data["category"]; got != "DISPATCHER" {
		t.Fatalf("category=%v, want DISPATCHER", got)
	}
}
