// Package migrations embeds the SQL files that establish the queue_status
// storage contract: table shape plus one entry per appointment.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
