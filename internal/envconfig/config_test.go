package envconfig

import (
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestUint(t *testing.T) {
	cases := map[string]uint{
		"":      512,
		"64":    64,
		"'128'": 128,
		"-1":    512,
		"abc":   512,
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("SEQ2SEQ_D_MODEL", k)
			if got := DModel(); got != v {
				t.Errorf("%s: expected %d, got %d", k, v, got)
			}
		})
	}
}

func TestFloat(t *testing.T) {
	cases := map[string]float64{
		"":     0.1,
		"0":    0,
		"0.25": 0.25,
		"x":    0.1,
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("SEQ2SEQ_DROPOUT", k)
			if got := Dropout(); got != v {
				t.Errorf("%s: expected %g, got %g", k, v, got)
			}
		})
	}
}

func TestBool(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"true":  true,
		"false": false,
		"1":     true,
		"0":     false,
		"junk":  true,
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("SEQ2SEQ_FLAG", k)
			if b := Bool("SEQ2SEQ_FLAG")(); b != v {
				t.Errorf("%s: expected %t, got %t", k, v, b)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"t":     slog.LevelDebug,
		"1":     slog.LevelDebug,
		"2":     slog.Level(-8),
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("SEQ2SEQ_DEBUG", k)
			if i := LogLevel(); i != v {
				t.Errorf("%s: expected %s, got %s", k, v, i)
			}
		})
	}
}

func TestValues(t *testing.T) {
	for _, k := range []string{"SEQ2SEQ_DEBUG", "SEQ2SEQ_D_MODEL", "SEQ2SEQ_LAYERS", "SEQ2SEQ_D_FF", "SEQ2SEQ_DROPOUT"} {
		t.Setenv(k, "")
	}
	t.Setenv("SEQ2SEQ_HEADS", "4")
	t.Setenv("SEQ2SEQ_SEED", "7")
	t.Setenv("SEQ2SEQ_TRAIN", "true")
	got := Values()
	want := map[string]string{
		"SEQ2SEQ_DEBUG":   "INFO",
		"SEQ2SEQ_D_MODEL": "512",
		"SEQ2SEQ_LAYERS":  "6",
		"SEQ2SEQ_HEADS":   "4",
		"SEQ2SEQ_D_FF":    "2048",
		"SEQ2SEQ_DROPOUT": "0.1",
		"SEQ2SEQ_SEED":    "7",
		"SEQ2SEQ_TRAIN":   "true",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}
