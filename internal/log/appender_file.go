package log

import "gopkg.in/natefinch/lumberjack.v2"

func (m *MultiWriter) AddFileAppender(fc FileConfig) *MultiWriter {
	writer := &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.MaxSizeMB,  // megabytes
		MaxBackups: fc.MaxBackups, // number of backups
		MaxAge:     fc.MaxAgeDays, // days
		Compress:   fc.Compress,   // compress the backups
	}
	m.writers = append(m.writers, writer)
	return m
}
