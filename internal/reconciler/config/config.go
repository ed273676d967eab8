package config

import "time"

type Config struct {
	Interval     time.Duration
	GraceWindow  time.Duration
	ReminderLead time.Duration
	// AuditEvery - аудит инвариантов раз в N проходов, 0 - не запускать
	AuditEvery int
}
