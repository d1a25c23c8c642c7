// Package logx is a tiny println-based logger shim, matching the rest
// of devicecode-go's services (no external logging library is pulled
// in anywhere for this domain).
package logx

import "devicecode-go/x/fmtx"

func Infof(format string, args ...any) {
	println("Info:", fmtx.Sprintf(format, args...))
}

func Warnf(format string, args ...any) {
	println("Warn:", fmtx.Sprintf(format, args...))
}

func Errorf(format string, args ...any) {
	println("Error:", fmtx.Sprintf(format, args...))
}
