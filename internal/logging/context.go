package logging

import "log/slog"

// WithComponent tags every record with the emitting component.
//
//	log := logging.WithComponent("engine")
//	log.Info("region opened", "pages", pages)
func WithComponent(name string) *slog.Logger {
	return GetLogger().With("component", name)
}

// WithPartition tags records with a partition id.
func WithPartition(l *slog.Logger, id uint8) *slog.Logger {
	return l.With("partition", id)
}

// WithTicket tags records with a ticket id.
func WithTicket(l *slog.Logger, id uint64) *slog.Logger {
	return l.With("ticket_id", id)
}
