package web

import "embed"

// FS contains the map page assets (HTML, CSS, JS).
//
//go:embed *.html *.css *.js
var FS embed.FS
