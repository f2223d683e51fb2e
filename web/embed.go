package web

import (
	"embed"
	"io/fs"
)

// connectorFS embeds the connector page the host frames and the popup pages it opens.
//
//go:embed all:connector
var connectorFS embed.FS

// ConnectorFS returns the embedded connector pages, rooted at the connector directory.
func ConnectorFS() (fs.FS, error) {
	return fs.Sub(connectorFS, "connector")
}
