package adb

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"mirrorcore/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	done    chan struct{}
	stopped bool
}

func (p *fakeProcess) Stop() error {
	if !p.stopped {
		p.stopped = true
		close(p.done)
	}
	return nil
}
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Err() error            { return nil }

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []string
	outputs map[string]string
	fail    map[string]error
	proc    *fakeProcess
}

func (e *fakeExecutor) record(name string, args []string) string {
	line := name + " " + strings.Join(args, " ")
	e.mu.Lock()
	e.calls = append(e.calls, line)
	e.mu.Unlock()
	return line
}

func (e *fakeExecutor) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	line := e.record(name, args)
	for prefix, err := range e.fail {
		if strings.HasPrefix(line, prefix) {
			return nil, err
		}
	}
	return []byte(e.outputs[line]), nil
}

func (e *fakeExecutor) Start(_ io.Writer, name string, args ...string) (Process, error) {
	e.record(name, args)
	e.proc = &fakeProcess{done: make(chan struct{})}
	return e.proc, nil
}

func TestParseDevices(t *testing.T) {
	out := "* daemon started successfully\nList of devices attached\n" +
		"R58M123\tdevice\n" +
		"192.168.1.20:5555\toffline\n" +
		"emulator-5554\tunauthorized\n" +
		"0123\tbootloader\n\n"
	devices := ParseDevices(out)
	assert.Equal(t, []Device{
		{Serial: "R58M123", Status: StatusConnected},
		{Serial: "192.168.1.20:5555", Status: StatusOffline},
		{Serial: "emulator-5554", Status: StatusUnauthorized},
	}, devices)
	assert.Empty(t, ParseDevices(""))
}

func TestClientArgs(t *testing.T) {
	e := &fakeExecutor{}
	c := NewClient("", "R58M123", WithExecutor(e))
	require.NoError(t, c.Push(context.Background(), "server.jar", "/data/local/tmp/scrcpy-server.jar"))
	require.NoError(t, NewClient("/opt/adb", "", WithExecutor(e)).ReverseRemove(context.Background(), "localabstract:scrcpy"))

	assert.Equal(t, []string{
		"adb -s R58M123 push server.jar /data/local/tmp/scrcpy-server.jar",
		"/opt/adb reverse --remove localabstract:scrcpy",
	}, e.calls)
}

func TestConnectAndPairCheckOutput(t *testing.T) {
	e := &fakeExecutor{outputs: map[string]string{
		"adb connect 10.0.0.2:5555":      "failed to connect to '10.0.0.2:5555': Connection refused",
		"adb connect 10.0.0.3:5555":      "connected to 10.0.0.3:5555",
		"adb pair 10.0.0.3:37000 123456": "Successfully paired to 10.0.0.3:37000",
	}}
	c := NewClient("adb", "", WithExecutor(e))
	ctx := context.Background()
	assert.Error(t, c.Connect(ctx, "10.0.0.2:5555"))
	assert.NoError(t, c.Connect(ctx, "10.0.0.3:5555"))
	assert.NoError(t, c.Pair(ctx, "10.0.0.3:37000", "123456"))
	assert.Error(t, c.Pair(ctx, "10.0.0.3:37000", "000000"))
}

func TestBootstrapAndClose(t *testing.T) {
	e := &fakeExecutor{}
	b := NewBootstrapper("adb", ServerConfig{
		LocalPath:  "scrcpy-server",
		RemotePath: "/data/local/tmp/scrcpy-server.jar",
		Version:    "3.3.3",
	}, WithBootstrapExecutor(e))

	p := session.Params{DeviceID: "R58M123", Port: 27183, MaxSize: 720, BitRate: 8000000, SCID: 0x1a2b}
	require.NoError(t, b.Bootstrap(context.Background(), p))
	require.Len(t, e.calls, 3)
	assert.Equal(t, "adb -s R58M123 push scrcpy-server /data/local/tmp/scrcpy-server.jar", e.calls[0])
	assert.Equal(t, "adb -s R58M123 reverse localabstract:scrcpy_00001a2b tcp:27183", e.calls[1])
	assert.True(t, strings.HasPrefix(e.calls[2],
		"adb -s R58M123 shell CLASSPATH=/data/local/tmp/scrcpy-server.jar app_process / com.genymobile.scrcpy.Server 3.3.3 "))
	assert.Contains(t, e.calls[2], "scid=00001a2b")
	assert.Contains(t, e.calls[2], "max_size=720")
	assert.Contains(t, e.calls[2], "video_bit_rate=8000000")

	require.NoError(t, b.Close())
	assert.True(t, e.proc.stopped)
	assert.Equal(t, "adb -s R58M123 reverse --remove localabstract:scrcpy_00001a2b", e.calls[3])

	// second close has nothing left to undo
	require.NoError(t, b.Close())
	assert.Len(t, e.calls, 4)
}

func TestBootstrapPushFailure(t *testing.T) {
	e := &fakeExecutor{fail: map[string]error{"adb push": errors.New("no devices/emulators found")}}
	b := NewBootstrapper("adb", ServerConfig{LocalPath: "s", RemotePath: "/r", Version: "3.3.3"}, WithBootstrapExecutor(e))

	err := b.Bootstrap(context.Background(), session.Params{Port: 27183, SCID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no devices")
	require.NoError(t, b.Close())
	assert.Len(t, e.calls, 1)
}

func TestBootstrapNeedsPort(t *testing.T) {
	b := NewBootstrapper("adb", ServerConfig{}, WithBootstrapExecutor(&fakeExecutor{}))
	assert.Error(t, b.Bootstrap(context.Background(), session.Params{}))
}

func TestDeviceAddress(t *testing.T) {
	assert.Equal(t, "10.0.0.3:37000", Device{IP: "10.0.0.3", Port: 37000}.Address())
	assert.Equal(t, "[fe80::1]:5555", Device{IP: "fe80::1", Port: 5555}.Address())
	assert.Equal(t, "R58M123", Device{Serial: "R58M123"}.Address())
}

func TestExtractADB(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "platform-tools.zip")
	f, err := os.Create(archive)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range map[string]string{
		"platform-tools/adb":           "#!/bin/sh\n",
		"platform-tools/fastboot":      "nope",
		"platform-tools/AdbWinApi.dll": "dll",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	out := t.TempDir()
	require.NoError(t, extractADB(archive, out, false))
	data, err := os.ReadFile(filepath.Join(out, "adb"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(data))
	assert.NoFileExists(t, filepath.Join(out, "fastboot"))
	assert.NoFileExists(t, filepath.Join(out, "AdbWinApi.dll"))

	path, err := Locate(out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "adb"), path)
}
