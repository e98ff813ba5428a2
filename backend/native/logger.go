package native

import (
	"log/slog"

	"github.com/gogpu/compute/backend"
)

// SetLogger gives the device its own logger. With nil the device follows
// backend.Logger, which compute.SetLogger configures.
func (d *Device) SetLogger(l *slog.Logger) {
	d.logger.Store(l)
}

func (d *Device) slogger() *slog.Logger {
	if l := d.logger.Load(); l != nil {
		return l
	}
	return backend.Logger()
}
