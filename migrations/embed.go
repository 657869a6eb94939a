// Package migrations embeds the journal schema into the binary so the
// daemon can migrate without SQL files on the device filesystem.
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS
