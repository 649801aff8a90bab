package mediafetch

import (
	"strings"
	"testing"
	"unicode/utf8"

	assert_ "github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	assert := assert_.New(t)

	assert.Equal("a_b_c.mp4", SanitizeFilename("a/b\\c.mp4"))
	assert.Equal("title.mp3", SanitizeFilename("ti\x00t\tle\n.mp3"))
	assert.Equal("C_ drive.mp4", SanitizeFilename("C: drive.mp4"))
	assert.Equal("media", SanitizeFilename(" .. "))
	assert.Equal("hidden", SanitizeFilename(".hidden"))
	assert.NotContains(SanitizeFilename("../../etc/passwd"), "/")
}

func TestSanitizeFilenameLength(t *testing.T) {
	assert := assert_.New(t)

	long := strings.Repeat("ж", 200) + ".mp4"
	name := SanitizeFilename(long)
	assert.LessOrEqual(len(name), MaxFilenameBytes)
	assert.True(strings.HasSuffix(name, ".mp4"))
	assert.True(utf8.ValidString(name))
}
