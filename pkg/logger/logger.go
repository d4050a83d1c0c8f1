package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alpacax/saucetunnel/pkg/version"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger points the global logger at stderr, or at a rotated file when
// fileName is set. The returned closer is nil for console output.
func InitLogger(fileName string) io.Closer {
	var output io.Writer
	var closer io.Closer

	if fileName != "" {
		logRotate := &lumberjack.Logger{
			Filename:   fileName,
			MaxSize:    50, // Max size in MB before rotation
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		output = PrettyWriter(logRotate, false)
		closer = logRotate
	} else {
		output = PrettyWriter(os.Stderr, version.Version == "dev")
	}

	log.Logger = zerolog.New(output).With().Timestamp().Caller().Logger()
	return closer
}

// BuildLogger returns the logger used as a job's build log. It carries no
// caller or level decoration so lines read like plain console output.
func BuildLogger(out io.Writer) zerolog.Logger {
	cw := zerolog.ConsoleWriter{
		Out:         out,
		NoColor:     true,
		PartsOrder:  []string{zerolog.MessageFieldName},
		FormatLevel: func(i interface{}) string { return "" },
		FormatFieldName: func(i interface{}) string {
			return "(" + fmt.Sprint(i) + ")"
		},
	}
	return zerolog.New(cw)
}

// PrettyWriter returns a zerolog.ConsoleWriter with or without caller info
func PrettyWriter(out io.Writer, showCaller bool) zerolog.ConsoleWriter {
	cw := zerolog.ConsoleWriter{
		Out:          out,
		NoColor:      true,
		TimeFormat:   time.RFC3339,
		TimeLocation: time.Local,
		FormatLevel: func(i interface{}) string {
			return "[" + strings.ToUpper(fmt.Sprint(i)) + "]"
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprint(i)
		},
		FormatFieldName: func(i interface{}) string {
			return "(" + fmt.Sprint(i) + ")"
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprint(i)
		},
	}
	if showCaller {
		cw.FormatCaller = func(i interface{}) string {
			if i == nil || i == "" {
				return ""
			}
			callerStr := fmt.Sprint(i)
			if idx := strings.Index(callerStr, "/saucetunnel/"); idx != -1 {
				callerStr = callerStr[idx+len("/saucetunnel/"):]
			}
			return fmt.Sprintf("(%s)", callerStr)
		}
	} else {
		cw.FormatCaller = func(i interface{}) string { return "" }
	}
	return cw
}
