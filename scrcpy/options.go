package scrcpy

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

const serverMainClass = "com.genymobile.scrcpy.Server"

// GenerateSCID returns a random 31-bit id, the server rejects anything wider.
func GenerateSCID() uint32 {
	return rand.Uint32() & 0x7FFFFFFF
}

// SocketName is the abstract unix socket the server connects to.
func (o ServerOptions) SocketName() string {
	if o.SCID == 0 {
		return "scrcpy"
	}
	return fmt.Sprintf("scrcpy_%08x", o.SCID)
}

// Args converts the options to the key=value list app_process expects.
// Only the video and control sockets are opened, both reversed.
func (o ServerOptions) Args() []string {
	args := []string{
		"tunnel_forward=false",
		"audio=false",
		"control=true",
		"send_device_meta=true",
		"send_codec_meta=true",
		"send_frame_meta=" + strconv.FormatBool(o.SendFrameMeta),
	}
	if o.SCID != 0 {
		args = append(args, fmt.Sprintf("scid=%08x", o.SCID))
	}
	if o.MaxSize > 0 {
		args = append(args, "max_size="+strconv.Itoa(o.MaxSize))
	}
	if o.VideoBitRate > 0 {
		args = append(args, "video_bit_rate="+strconv.Itoa(o.VideoBitRate))
	}
	if o.MaxFPS > 0 {
		args = append(args, "max_fps="+strconv.Itoa(o.MaxFPS))
	}
	if o.VideoCodec != "" {
		args = append(args, "video_codec="+o.VideoCodec)
	}
	if o.VideoCodecOptions != "" {
		args = append(args, "video_codec_options="+o.VideoCodecOptions)
	}
	if o.LogLevel != "" {
		args = append(args, "log_level="+o.LogLevel)
	}
	for _, kv := range o.Extra {
		if strings.Contains(kv, "=") {
			args = append(args, kv)
		}
	}
	return args
}

// ShellCommand is the adb shell command line that starts the server.
func (o ServerOptions) ShellCommand(classpath string) string {
	base := fmt.Sprintf("CLASSPATH=%s app_process / %s %s", classpath, serverMainClass, o.Version)
	return strings.Join(append([]string{base}, o.Args()...), " ")
}
