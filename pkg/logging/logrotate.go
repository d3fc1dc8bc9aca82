package logging

import (
	"fmt"
	"path/filepath"
)

// LogrotateConfig renders a logrotate(8) stanza for the file written when
// Config.File is set. The log file is held open in append mode, so rotation
// uses copytruncate instead of a reload hook.
func LogrotateConfig(service, dir string, keepDays int) string {
	if service == "" {
		service = "timelapsed"
	}
	if dir == "" {
		dir = filepath.Join("/var/log", service)
	}
	if keepDays < 1 {
		keepDays = 14
	}
	return fmt.Sprintf(`# Logrotate configuration for %[1]s
# Install: sudo cp this file to /etc/logrotate.d/%[1]s

%[2]s {
    daily
    rotate %[3]d
    compress
    delaycompress
    missingok
    notifempty
    copytruncate
}
`, service, filepath.Join(dir, service+".log"), keepDays)
}
