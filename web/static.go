package web

import (
	"embed"
)

// staticFiles holds the pages served to browsers.
//
//go:embed static/*
var staticFiles embed.FS
