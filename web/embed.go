// Package web provides the embedded browser player.
package web

import "embed"

// StaticFS contains the player page and its script.
//
//go:embed all:static
var StaticFS embed.FS
