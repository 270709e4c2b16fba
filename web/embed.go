// Package web holds the playground's static editor page.
package web

import "embed"

//go:embed dist
var Assets embed.FS
