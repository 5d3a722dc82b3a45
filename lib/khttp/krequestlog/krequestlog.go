// Package krequestlog provides an http middleware logging served requests.
package krequestlog

import (
	"net/http"
	"time"

	"github.com/ccontavalli/accounts/lib/khttp"
	"github.com/ccontavalli/accounts/lib/logger"
	"github.com/spf13/pflag"
)

type Flags struct {
	LogStart  bool
	LogEnd    bool
	LogFormat string
}

func DefaultFlags() *Flags {
	return &Flags{
		LogStart:  false,
		LogEnd:    true,
		LogFormat: "text",
	}
}

func (f *Flags) Register(set *pflag.FlagSet, prefix string) *Flags {
	set.BoolVar(&f.LogStart, prefix+"log-start", f.LogStart, "Log request start")
	set.BoolVar(&f.LogEnd, prefix+"log-end", f.LogEnd, "Log request end")
	set.StringVar(&f.LogFormat, prefix+"log-format", f.LogFormat, "Log format (text or apache)")
	return f
}

type Options struct {
	Log       logger.Logger
	LogStart  bool
	LogEnd    bool
	LogFormat string
	Printer   func(format string, args ...interface{})
}

type Modifier func(*Options)

func WithLogger(log logger.Logger) Modifier {
	return func(o *Options) {
		o.Log = log
		if o.Printer == nil {
			o.Printer = log.Infof
		}
	}
}

func WithPrinter(printer func(format string, args ...interface{})) Modifier {
	return func(o *Options) {
		o.Printer = printer
	}
}

func FromFlags(flags *Flags) Modifier {
	return func(o *Options) {
		o.LogStart = flags.LogStart
		o.LogEnd = flags.LogEnd
		o.LogFormat = flags.LogFormat
	}
}

func NewOptions(mods ...Modifier) *Options {
	o := &Options{
		Log:       logger.Go,
		LogEnd:    true,
		LogFormat: "text",
	}
	for _, m := range mods {
		m(o)
	}
	if o.Printer == nil {
		o.Printer = o.Log.Infof
	}
	return o
}

// statusWriter records the status code and body size written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
	length int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(data []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(data)
	w.length += n
	return n, err
}

// NewHandler returns a new http.Handler that logs requests.
func NewHandler(next http.Handler, mods ...Modifier) http.Handler {
	opts := NewOptions(mods...)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := r.URL.Path
		method := r.Method
		origin := khttp.RemoteIP(r)

		if opts.LogStart {
			opts.Printer("HTTP START origin=%s method=%s path=%s", origin, method, path)
		}

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		if opts.LogEnd {
			duration := time.Since(start)
			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}

			if opts.LogFormat == "apache" {
				// minimal apache combined style
				opts.Printer("%s - - [%s] \"%s %s %s\" %d %d \"%s\" \"%s\" %v",
					origin,
					start.Format("02/Jan/2006:15:04:05 -0700"),
					method, r.URL.RequestURI(), r.Proto,
					status, sw.length,
					r.Referer(), r.UserAgent(),
					duration,
				)
			} else {
				opts.Printer("HTTP END origin=%s method=%s path=%s status=%d size=%d duration=%v", origin, method, path, status, sw.length, duration)
			}
		}
	})
}
