package replay

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mirrorcore/channel"
	"mirrorcore/scrcpy"
	"mirrorcore/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	// baseline, 640x360 after cropping
	spsNAL = []byte{0x67, 0x42, 0xC0, 0x1F, 0xF4, 0x05, 0x01, 0x7F, 0xCA, 0x80}
	ppsNAL = []byte{0x68, 0xCE, 0x38, 0x80}
	idrNAL = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
	pNAL   = []byte{0x41, 0x9A, 0x02, 0x04}
)

func annexB(nals ...[]byte) []byte {
	var b []byte
	for _, nal := range nals {
		b = append(b, 0, 0, 0, 1)
		b = append(b, nal...)
	}
	return b
}

func writeRecording(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pixel-demo.h264")
	require.NoError(t, os.WriteFile(path, annexB(spsNAL, ppsNAL, idrNAL, pNAL, pNAL), 0o644))
	return path
}

func connect(t *testing.T, b *Bootstrapper, framed bool) *channel.Channel {
	t.Helper()
	c := channel.New(channel.Config{Addr: "127.0.0.1:0", FrameMeta: framed})
	require.NoError(t, c.Listen())
	t.Cleanup(func() { c.Disconnect() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	port := c.Addr().(*net.TCPAddr).Port
	errc := make(chan error, 1)
	go func() { errc <- b.Bootstrap(ctx, session.Params{Port: port, FrameMeta: framed}) }()
	_, err := c.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, <-errc)
	t.Cleanup(func() { b.Close() })
	return c
}

func TestLoadSplitsAccessUnits(t *testing.T) {
	b := New(writeRecording(t))
	aus, meta, err := b.load()
	require.NoError(t, err)

	require.Len(t, aus, 3)
	assert.True(t, aus[0].key)
	assert.Equal(t, annexB(spsNAL, ppsNAL, idrNAL), aus[0].data)
	assert.False(t, aus[1].key)
	assert.Equal(t, annexB(pNAL), aus[2].data)
	assert.Equal(t, scrcpy.DeviceMeta{Name: "pixel-demo", CodecID: "h264", Width: 640, Height: 360}, meta)
}

func TestLoadErrors(t *testing.T) {
	_, _, err := New(filepath.Join(t.TempDir(), "missing.h264")).load()
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.h264")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))
	_, _, err = New(path).load()
	assert.Error(t, err)

	// nothing listens there
	assert.Error(t, New(writeRecording(t)).Bootstrap(context.Background(), session.Params{Port: 1}))
}

func TestReplayFramed(t *testing.T) {
	b := New(writeRecording(t), WithFPS(200))
	c := connect(t, b, true)
	assert.Equal(t, uint32(640), c.Meta().Width)
	assert.Equal(t, "pixel-demo", c.Meta().Name)

	chunk, err := c.NextMediaChunk()
	require.NoError(t, err)
	assert.True(t, chunk.IsKeyFrame)
	assert.True(t, chunk.HasPTS)
	assert.Equal(t, annexB(spsNAL, ppsNAL, idrNAL), chunk.Data)

	chunk, err = c.NextMediaChunk()
	require.NoError(t, err)
	assert.False(t, chunk.IsKeyFrame)

	require.NoError(t, c.SendControl(scrcpy.Command(scrcpy.TYPE_RESET_VIDEO)))
	sawKey := false
	for i := 0; i < 4 && !sawKey; i++ {
		chunk, err = c.NextMediaChunk()
		require.NoError(t, err)
		sawKey = chunk.IsKeyFrame
	}
	assert.True(t, sawKey)
}

func TestReplayRaw(t *testing.T) {
	b := New(writeRecording(t), WithFPS(200))
	c := connect(t, b, false)

	var stream []byte
	want := annexB(spsNAL, ppsNAL, idrNAL)
	for len(stream) < len(want) {
		chunk, err := c.NextMediaChunk()
		require.NoError(t, err)
		assert.False(t, chunk.HasPTS)
		stream = append(stream, chunk.Data...)
	}
	assert.True(t, bytes.HasPrefix(stream, want))
}

func TestReplayClipboard(t *testing.T) {
	b := New(writeRecording(t), WithFPS(5))
	c := connect(t, b, true)

	require.NoError(t, c.SendControl(scrcpy.SetClipboard(5, "from the desk", false)))
	require.NoError(t, c.SendControl(scrcpy.GetClipboard(scrcpy.COPY_KEY_COPY)))

	var got []scrcpy.DeviceMessage
	for len(got) < 2 {
		select {
		case msg := <-c.DeviceMessages():
			got = append(got, msg)
		case <-time.After(5 * time.Second):
			t.Fatal("no device message")
		}
	}
	assert.Equal(t, scrcpy.DEVICE_MSG_TYPE_ACK_CLIPBOARD, got[0].Type)
	assert.Equal(t, uint64(5), got[0].Sequence)
	assert.Equal(t, scrcpy.DEVICE_MSG_TYPE_CLIPBOARD, got[1].Type)
	assert.Equal(t, "from the desk", got[1].Text)
}

func TestCloseStopsPlayback(t *testing.T) {
	b := New(writeRecording(t), WithFPS(200))
	c := connect(t, b, true)
	require.NoError(t, b.Close())

	// drain what was in flight, then the read sees the closed socket
	var err error
	for err == nil {
		_, err = c.NextMediaChunk()
	}
	<-c.Done()
	require.NoError(t, b.Close())
}
