package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("BA_TEST_STR", "  value ")
	assert.Equal(t, "value", GetEnv("BA_TEST_STR", "def"))

	t.Setenv("BA_TEST_STR", "")
	assert.Equal(t, "def", GetEnv("BA_TEST_STR", "def"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("BA_TEST_INT", "42")
	assert.Equal(t, 42, GetEnvInt("BA_TEST_INT", 1))

	t.Setenv("BA_TEST_INT", "nope")
	assert.Equal(t, 1, GetEnvInt("BA_TEST_INT", 1))
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("BA_TEST_BOOL", "TRUE")
	assert.True(t, GetEnvBool("BA_TEST_BOOL", false))

	t.Setenv("BA_TEST_BOOL", "maybe")
	assert.False(t, GetEnvBool("BA_TEST_BOOL", false))
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name string
		val  string
		want time.Duration
	}{
		{"go duration", "90s", 90 * time.Second},
		{"bare integer is not a duration", "8", time.Minute},
		{"invalid", "soon", time.Minute},
		{"unset", "", time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BA_TEST_DUR", tt.val)
			assert.Equal(t, tt.want, GetEnvDuration("BA_TEST_DUR", time.Minute))
		})
	}
}

func TestGetEnvDays(t *testing.T) {
	tests := []struct {
		name string
		val  string
		want time.Duration
	}{
		{"bare days", "30", 30 * 24 * time.Hour},
		{"zero days", "0", 0},
		{"go duration", "36h", 36 * time.Hour},
		{"negative", "-3", time.Hour},
		{"invalid", "a month", time.Hour},
		{"unset", "", time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BA_TEST_DAYS", tt.val)
			assert.Equal(t, tt.want, GetEnvDays("BA_TEST_DAYS", time.Hour))
		})
	}
}
