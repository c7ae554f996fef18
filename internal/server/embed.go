package server

import "embed"

// dist holds the static frontend assets served at "/". Without a frontend
// build it holds only a placeholder index.html that points to the JSON API
// under /api/v1/ and to the --tui dashboard.
//
//go:embed all:dist
var distFS embed.FS
