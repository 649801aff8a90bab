package util

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

var (
	ErrNoFilename = errors.New("cannot extract valid filename")
)

// FilenameFromURL gives the last element of the URL path, if it looks like a file name.
func FilenameFromURL(u *url.URL) (string, error) {
	if u == nil {
		return "", ErrNoFilename
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return "", ErrNoFilename
	}
	filename := path.Base(trimmed)
	// Don't allow "filenames" that are just ".", "..", etc.
	if strings.ReplaceAll(filename, ".", "") == "" {
		return "", ErrNoFilename
	}
	return filename, nil
}

// TitleFromURL derives a display title from a URL that has none of its own: the file name without its extension.
func TitleFromURL(s string) (string, error) {
	parsedURL, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	filename, err := FilenameFromURL(parsedURL)
	if err != nil {
		return "", err
	}
	if unescaped, err := url.PathUnescape(filename); err == nil {
		filename = unescaped
	}
	if stem := strings.TrimSuffix(filename, path.Ext(filename)); stem != "" {
		return stem, nil
	}
	return filename, nil
}
