package util

import (
	"net/url"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestFilenameFromURL(t *testing.T) {
	assert := assert_.New(t)
	parse := func(s string) *url.URL {
		u, err := url.Parse(s)
		assert.NoError(err)
		return u
	}

	filename, err := FilenameFromURL(parse("https://example.com/media/clip.mp4?x=1"))
	assert.NoError(err)
	assert.Equal("clip.mp4", filename)

	filename, err = FilenameFromURL(parse("https://example.com/watch/"))
	assert.NoError(err)
	assert.Equal("watch", filename)

	for _, s := range []string{"https://example.com", "https://example.com/", "https://example.com/a/.."} {
		_, err = FilenameFromURL(parse(s))
		assert.ErrorIs(err, ErrNoFilename, s)
	}
	_, err = FilenameFromURL(nil)
	assert.ErrorIs(err, ErrNoFilename)
}

func TestTitleFromURL(t *testing.T) {
	assert := assert_.New(t)
	cases := map[string]string{
		"https://example.com/media/My%20Clip.mp4": "My Clip",
		"https://example.com/videos/12345":        "12345",
		"https://example.com/.hidden":             ".hidden",
	}
	for input, expected := range cases {
		title, err := TitleFromURL(input)
		assert.NoError(err, input)
		assert.Equal(expected, title, input)
	}
	_, err := TitleFromURL("https://example.com/")
	assert.ErrorIs(err, ErrNoFilename)
}
