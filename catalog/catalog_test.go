package catalog

import (
	"math/rand"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"

	"github.com/alanbriolat/media-fetch"
	"github.com/alanbriolat/media-fetch/generic"
)

func video(label string, length int64) mediafetch.FormatDescriptor {
	return mediafetch.FormatDescriptor{
		Label:         label,
		Selector:      label,
		Container:     "mp4",
		HasVideo:      true,
		HasAudio:      true,
		ContentLength: generic.SomeIf(length, length > 0),
	}
}

func audio(selector string, bitrate int64) mediafetch.FormatDescriptor {
	return mediafetch.FormatDescriptor{
		Selector:  selector,
		Container: "m4a",
		HasAudio:  true,
		Bitrate:   generic.SomeIf(bitrate, bitrate > 0),
	}
}

func TestBuildScenario(t *testing.T) {
	assert := assert_.New(t)
	b := NewBuilder(0)
	c := b.Build(&mediafetch.Metadata{
		Title:    "Clip",
		Duration: generic.Some(3 * time.Minute),
		Formats: []mediafetch.FormatDescriptor{
			video("1080p", 80_000_000),
			video("720p", 40_000_000),
			audio("140", 128_000),
		},
	})
	assert.Equal("Clip", c.Title)
	assert.Equal([]string{"1080p", "720p"}, c.Labels())
	a, ok := c.Audio.Get()
	assert.True(ok)
	assert.Equal("140", a.Selector)
	assert.Equal("128k", a.Label)
	assert.True(a.IsAudioOnly())
	assert.False(c.IsEmpty())
}

func TestBuildFiltering(t *testing.T) {
	assert := assert_.New(t)
	b := NewBuilder(5)
	videoOnly := video("1080p", 0)
	videoOnly.HasAudio = false
	unknownContainer := video("480p", 0)
	unknownContainer.Container = "mhtml"
	neither := mediafetch.FormatDescriptor{Label: "storyboard", Container: "mp4"}

	c := b.Build(&mediafetch.Metadata{Formats: []mediafetch.FormatDescriptor{videoOnly, unknownContainer, neither}})
	assert.True(c.IsEmpty())
	assert.Empty(c.Video)
	assert.True(c.Audio.IsNone())

	upper := video("360p", 0)
	upper.Container = "MP4"
	c = b.Build(&mediafetch.Metadata{Formats: []mediafetch.FormatDescriptor{upper}})
	assert.Equal([]string{"360p"}, c.Labels())

	// YouTube reports its lowest muxed rendition as video/3gpp
	mobile := video("144p", 0)
	mobile.Container = "3gpp"
	c = b.Build(&mediafetch.Metadata{Formats: []mediafetch.FormatDescriptor{upper, mobile}})
	assert.Equal([]string{"360p", "144p"}, c.Labels())
	found, ok := c.FindVideo("144p")
	assert.True(ok)
	assert.Equal("3gpp", found.Container)
	_, ok = c.FindVideo("240p")
	assert.False(ok)
}

func TestBuildTieBreak(t *testing.T) {
	assert := assert_.New(t)
	b := NewBuilder(5)

	first := video("720p", 0)
	first.Selector = "first"
	second := video("720p", 0)
	second.Selector = "second"
	c := b.Build(&mediafetch.Metadata{Formats: []mediafetch.FormatDescriptor{first, second}})
	assert.Equal("first", c.Video[0].Selector, "first encountered wins without lengths")

	known := video("720p", 1000)
	known.Selector = "known"
	c = b.Build(&mediafetch.Metadata{Formats: []mediafetch.FormatDescriptor{first, known, second}})
	assert.Equal("known", c.Video[0].Selector, "known length beats unknown")

	bigger := video("720p", 2000)
	bigger.Selector = "bigger"
	c = b.Build(&mediafetch.Metadata{Formats: []mediafetch.FormatDescriptor{known, bigger}})
	assert.Equal("bigger", c.Video[0].Selector)
	c = b.Build(&mediafetch.Metadata{Formats: []mediafetch.FormatDescriptor{bigger, known}})
	assert.Equal("bigger", c.Video[0].Selector)
}

func TestBuildOrderingAndTruncation(t *testing.T) {
	assert := assert_.New(t)
	formats := []mediafetch.FormatDescriptor{
		video("hd", 0),
		video("240p", 0),
		video("1080p60", 0),
		video("source", 0),
		video("360p", 0),
		video("720p", 0),
		video("144p", 0),
		video("480p", 0),
	}
	c := NewBuilder(10).Build(&mediafetch.Metadata{Formats: formats})
	assert.Equal([]string{"1080p60", "720p", "480p", "360p", "240p", "144p", "hd", "source"}, c.Labels())

	c = NewBuilder(5).Build(&mediafetch.Metadata{Formats: formats})
	assert.Equal([]string{"1080p60", "720p", "480p", "360p", "240p"}, c.Labels())
}

func TestBuildAudioSelection(t *testing.T) {
	assert := assert_.New(t)
	b := NewBuilder(5)

	c := b.Build(&mediafetch.Metadata{Formats: []mediafetch.FormatDescriptor{
		audio("unknown", 0),
		audio("low", 48_000),
		audio("high", 160_000),
		audio("tie", 160_000),
	}})
	a := c.Audio.Expect("audio expected")
	assert.Equal("high", a.Selector)
	assert.Empty(c.Video)
	assert.False(c.IsEmpty())

	c = b.Build(&mediafetch.Metadata{Formats: []mediafetch.FormatDescriptor{audio("a", 0), audio("b", 0)}})
	assert.Equal("a", c.Audio.Expect("audio expected").Selector)
	assert.Equal("audio", c.Audio.Expect("audio expected").Label)
}

func TestBuildDeterministicAndUnique(t *testing.T) {
	assert := assert_.New(t)
	rng := rand.New(rand.NewSource(1))
	labels := []string{"1080p", "720p", "480p", "360p", "", "hd", "720p60"}
	for round := 0; round < 50; round++ {
		var formats []mediafetch.FormatDescriptor
		for i := 0; i < 20; i++ {
			f := video(labels[rng.Intn(len(labels))], int64(rng.Intn(3))*1000)
			f.Height = rng.Intn(3) * 360
			f.Selector = string(rune('a' + i))
			if rng.Intn(4) == 0 {
				f = audio(f.Selector, int64(rng.Intn(4))*64_000)
			}
			formats = append(formats, f)
		}
		b := NewBuilder(5)
		first := b.Build(&mediafetch.Metadata{Formats: formats})
		second := b.Build(&mediafetch.Metadata{Formats: formats})
		assert.Equal(first, second)

		seen := generic.NewSet[string]()
		for _, f := range first.Video {
			assert.Equal(1, seen.Add(f.Label), "duplicate label %q", f.Label)
			assert.True(f.HasVideo && f.HasAudio)
		}
		assert.LessOrEqual(len(first.Video), 5)
		if a, ok := first.Audio.Get(); ok {
			assert.True(a.IsAudioOnly())
		}
	}
}

func TestDeriveLabel(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal("720p", DeriveLabel(mediafetch.FormatDescriptor{Label: " 720p ", Height: 1080}))
	assert.Equal("1080p", DeriveLabel(mediafetch.FormatDescriptor{Height: 1080}))
	assert.Equal("800k", DeriveLabel(mediafetch.FormatDescriptor{Bitrate: generic.Some(int64(799_600))}))
	assert.Equal(UnknownLabel, DeriveLabel(mediafetch.FormatDescriptor{}))
}

func TestLabelQuality(t *testing.T) {
	assert := assert_.New(t)
	cases := []struct {
		label   string
		quality int
		ok      bool
	}{
		{"720p", 720, true},
		{"1080p60 HDR", 1080, true},
		{"128k", 128, true},
		{"2160", 2160, true},
		{"hd", 0, false},
		{"", 0, false},
		{"p720", 0, false},
		{"medium", 0, false},
	}
	for _, c := range cases {
		quality, ok := LabelQuality(c.label)
		assert.Equal(c.ok, ok, c.label)
		assert.Equal(c.quality, quality, c.label)
	}
}
