// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/joeycumines/go-taskrt"
	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.Run(append([]string{"taskrt"}, args...))
	return stdout.String(), stderr.String(), err
}

func TestApp_spawn(t *testing.T) {
	out, _, err := runApp(t, "--workers", "2", "spawn", "--tasks", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "Benchmark: spawn")
	assert.Contains(t, out, "Workers: 2")
	assert.Contains(t, out, "Tasks: 100\n")
	assert.Contains(t, out, "Spawned: 101, completed: 101, failed: 0, cancelled: 0")
}

func TestApp_switch(t *testing.T) {
	out, _, err := runApp(t, "switch", "--tasks", "4", "--yields", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "Switches: 400\n")
}

func TestApp_latency(t *testing.T) {
	out, _, err := runApp(t, "--metrics", "latency", "-n", "50", "--sleep", "1ms")
	require.NoError(t, err)
	assert.Contains(t, out, "Tasks: 50, sleep: 1ms")
	assert.Contains(t, out, "Lateness: p50=")
	assert.Contains(t, out, "Wake lateness: p50=")
}

func TestApp_fanout(t *testing.T) {
	out, _, err := runApp(t, "fanout", "--tasks", "4", "--work", "10000")
	require.NoError(t, err)
	// (0+1+2+3) * (0+1+...+9999)
	assert.Contains(t, out, "Total result: 299970000\n")
}

func TestApp_io(t *testing.T) {
	start := time.Now()
	out, _, err := runApp(t, "io", "--tasks", "1000", "--sleep", "20ms")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Contains(t, out, "Total result: 499500\n")
}

func TestApp_preempt(t *testing.T) {
	out, _, err := runApp(t, "--workers", "1", "preempt", "--hog", "50ms", "--sleep", "2ms")
	require.NoError(t, err)
	assert.Contains(t, out, "Starved: false")
}

func TestApp_env(t *testing.T) {
	t.Setenv("TASKRT_WORKERS", "3")
	t.Setenv("TASKRT_LOG_LEVEL", "debug")
	out, errOut, err := runApp(t, "spawn", "--tasks", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "Workers: 3")
	assert.Contains(t, errOut, "scheduler started")
}

func TestApp_timeout(t *testing.T) {
	_, _, err := runApp(t, "--timeout", "20ms", "io", "--tasks", "10", "--sleep", "1h")
	assert.ErrorIs(t, err, taskrt.ErrCancelled)
}

func TestApp_invalidFlags(t *testing.T) {
	_, _, err := runApp(t, "--log-level", "loud", "spawn")
	assert.ErrorContains(t, err, "invalid log level")

	_, _, err = runApp(t, "--gather-policy", "never", "spawn")
	assert.ErrorContains(t, err, "invalid gather policy")

	_, _, err = runApp(t, "--workers", "-1", "spawn")
	assert.Error(t, err)
}

func TestApp_metricsServer(t *testing.T) {
	out, errOut, err := runApp(t, "--metrics-addr", "127.0.0.1:0", "--log-level", "info", "spawn", "--tasks", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "Resume: p50=")
	assert.Contains(t, errOut, "serving metrics")
}

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want logiface.Level
	}{
		{"trace", logiface.LevelTrace},
		{"DEBUG", logiface.LevelDebug},
		{"info", logiface.LevelInformational},
		{"warning", logiface.LevelWarning},
		{"err", logiface.LevelError},
		{"disabled", logiface.LevelDisabled},
	} {
		got, err := parseLevel(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestPercentile(t *testing.T) {
	values := make([]time.Duration, 100)
	for i := range values {
		values[i] = time.Duration(i + 1)
	}
	assert.Equal(t, time.Duration(50), percentile(values, 0.5))
	assert.Equal(t, time.Duration(99), percentile(values, 0.99))
	assert.Equal(t, time.Duration(100), percentile(values, 1))
	assert.Zero(t, percentile(nil, 0.5))
}
