// Package runner owns the process lifecycle: banner, start hooks, waiting for
// cancellation and a bounded drain before exit.
package runner

import (
	"bytes"
	"context"
	"os"

	"github.com/dimiro1/banner"
)

type State int32

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

type Hooks struct {
	OnStart func()
	// OnStop runs after the drain finished or timed out, with its error.
	OnStop func(drainErr error)
}

// Drainer ends in-flight work before the process exits.
type Drainer interface {
	Drain() error
}

type DrainerFunc func() error

func (f DrainerFunc) Drain() error { return f() }

// Version is overridden at build time with -ldflags.
var Version = "dev"

func PrintBanner() {
	tpl := "{{ .Title \"CALLPROBE\" \"\" 0 }}\nVersion: " + Version + "\nStarted: {{ .Now \"2006-01-02 15:04:05\" }}\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
