package transcode

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeFFmpeg(t *testing.T, script string) string {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func TestFFmpegArgs(t *testing.T) {
	assert := assert_.New(t)
	argsFile := filepath.Join(t.TempDir(), "args")
	binary := fakeFFmpeg(t, `echo "$@" > `+argsFile+`
cat
`)
	var out bytes.Buffer
	err := NewFFmpeg(binary, 192).Transcode(context.Background(), strings.NewReader("audio"), &out)
	require.NoError(t, err)
	assert.Equal("audio", out.String())

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(string(args), "-i pipe:0")
	assert.Contains(string(args), "-vn")
	assert.Contains(string(args), "-b:a 192k")
	assert.Contains(string(args), "-f mp3")
	assert.Contains(string(args), "pipe:1")
}

func TestFFmpegFailure(t *testing.T) {
	binary := fakeFFmpeg(t, `cat > /dev/null
echo "pipe:0: Invalid data found when processing input" >&2
exit 1
`)
	var out bytes.Buffer
	err := NewFFmpeg(binary, 128).Transcode(context.Background(), strings.NewReader("not audio"), &out)
	assert_.ErrorContains(t, err, "Invalid data found")
}

func TestFFmpegCancel(t *testing.T) {
	binary := fakeFFmpeg(t, `sleep 30
`)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := NewFFmpeg(binary, 128).Transcode(ctx, strings.NewReader(""), &bytes.Buffer{})
	assert_.ErrorIs(t, err, context.DeadlineExceeded)
	assert_.Less(t, time.Since(start), 10*time.Second)
}

func TestNew(t *testing.T) {
	assert := assert_.New(t)

	_, err := New("bogus", "ffmpeg", 128, "")
	assert.ErrorIs(err, ErrUnknownKind)

	transcoder, err := New(KindEmbedded, "ffmpeg", 0, t.TempDir())
	require.NoError(t, err)
	embedded, ok := transcoder.(*Embedded)
	require.True(t, ok)
	assert.Equal(DefaultBitrateKbps, embedded.BitrateKbps)

	missing := filepath.Join(t.TempDir(), "no-such-ffmpeg")
	_, err = New(KindFFmpeg, missing, 128, "")
	assert.Error(err)

	transcoder, err = New(KindAuto, missing, 128, "")
	require.NoError(t, err)
	assert.IsType(&Embedded{}, transcoder)

	binary := fakeFFmpeg(t, "cat\n")
	transcoder, err = New(KindAuto, binary, 128, "")
	require.NoError(t, err)
	assert.IsType(&FFmpeg{}, transcoder)
}

func TestFFmpegReal(t *testing.T) {
	binary, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	// One second of silence as WAV
	var wav bytes.Buffer
	gen := exec.Command(binary, "-hide_banner", "-loglevel", "error", "-f", "lavfi", "-i", "anullsrc=r=44100:cl=mono", "-t", "1", "-f", "wav", "pipe:1")
	gen.Stdout = &wav
	if err := gen.Run(); err != nil {
		t.Skipf("ffmpeg cannot generate test input: %v", err)
	}

	var out bytes.Buffer
	require.NoError(t, NewFFmpeg(binary, 128).Transcode(context.Background(), &wav, &out))
	assert_.Greater(t, out.Len(), 0)
}
