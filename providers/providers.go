// Package providers registers every URL provider with mediafetch.DefaultProviderRegistry.
package providers

import (
	_ "github.com/alanbriolat/media-fetch/provider/youtube"
	_ "github.com/alanbriolat/media-fetch/provider/ytdlp"
)
