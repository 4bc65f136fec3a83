// Package templates embeds the HTML shell.
package templates

import "embed"

//go:embed *.html pages/*.html partials/*.html
var FS embed.FS
