// Package web содержит собранный фронтенд, который отдается с GET /
package web

import "embed"

//go:embed static
var Static embed.FS
