package log

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits of log files created by NewRotatingFile.
const (
	RotateMaxSizeMB  = 50
	RotateMaxBackups = 5
	RotateMaxAgeDays = 30
)

// NewRotatingFile returns a writer appending to path and rotating it once it
// grows past RotateMaxSizeMB. Rotated files are gzip-compressed. The caller
// closes the writer.
func NewRotatingFile(path string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    RotateMaxSizeMB,
		MaxBackups: RotateMaxBackups,
		MaxAge:     RotateMaxAgeDays,
		Compress:   true,
	}
}

// Tee returns a writer duplicating output to every non-nil writer.
func Tee(writers ...io.Writer) io.Writer {
	out := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			out = append(out, w)
		}
	}
	return io.MultiWriter(out...)
}
