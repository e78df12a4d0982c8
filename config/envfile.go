// Package config implements the runtime-override surface of spec.md
// §6 ("FASTDDS_ENVIRONMENT_FILE may name a watched file providing
// runtime overrides"). The constructor-time configuration surface
// itself is participant.Attributes (SPEC_FULL.md §4.11); this package
// only watches the named file and hands parsed overrides to a
// listener.
//
// Grounded on the teacher's pkg/charts Helm-values file watching (and
// the DataDog-datadog-agent dependency set's broader use of the same
// library) for the fsnotify.Watcher setup/teardown idiom, and on
// pkg/credswatcher's goroutine-plus-two-channels shape for running the
// watch loop.
package config

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// EnvFileVar is the environment variable spec.md §6 names.
const EnvFileVar = "FASTDDS_ENVIRONMENT_FILE"

// Overrides is the set of runtime values an environment file may
// carry. The file format is flat KEY=VALUE lines (one per line,
// '#'-prefixed comments ignored); no XML profile parsing is
// implemented, per the explicit Non-goal.
type Overrides struct {
	// InitialPeerLocators overrides a participant's list of discovery
	// server / initial peer locators, given as comma-separated
	// address strings (ROS_DISCOVERY_SERVER-style).
	InitialPeerLocators []string
}

func parseOverrides(r *bufio.Scanner) Overrides {
	var o Overrides
	for r.Scan() {
		line := strings.TrimSpace(r.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ROS_DISCOVERY_SERVER":
			o.InitialPeerLocators = splitNonEmpty(strings.TrimSpace(value), ",")
		}
	}
	return o
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadOverrides(path string) (Overrides, error) {
	f, err := os.Open(path)
	if err != nil {
		return Overrides{}, err
	}
	defer f.Close()
	return parseOverrides(bufio.NewScanner(f)), nil
}

// Watcher watches the file named by FASTDDS_ENVIRONMENT_FILE (if set)
// and invokes OnChange with freshly parsed Overrides whenever it is
// created or written.
type Watcher struct {
	path     string
	log      *logrus.Entry
	OnChange func(Overrides)
}

// NewWatcher reads FASTDDS_ENVIRONMENT_FILE from the environment. If
// unset, Start is a no-op. log defaults to logrus's standard logger
// when nil.
func NewWatcher(log *logrus.Entry) *Watcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Watcher{path: os.Getenv(EnvFileVar), log: log.WithField("component", "config-watcher")}
}

// Start loads the initial overrides (if the file is readable) and
// watches it for changes until ctx is done. Per spec.md §6, a missing
// or unreadable file logs one Warn and the watch is skipped, not
// treated as an error.
func (w *Watcher) Start(ctx context.Context) error {
	if w.path == "" {
		return nil
	}

	if o, err := loadOverrides(w.path); err != nil {
		w.log.WithError(err).Warnf("%s names an unreadable file, skipping watch", EnvFileVar)
		return nil
	} else if w.OnChange != nil {
		w.OnChange(o)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.path); err != nil {
		fsw.Close()
		w.log.WithError(err).Warnf("could not watch %s, skipping watch", w.path)
		return nil
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				o, err := loadOverrides(w.path)
				if err != nil {
					w.log.WithError(err).Warn("failed to reload environment file")
					continue
				}
				if w.OnChange != nil {
					w.OnChange(o)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.log.WithError(err).Warn("environment file watch error")
			}
		}
	}()
	return nil
}
