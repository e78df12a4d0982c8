// Package rtpslog wraps github.com/sirupsen/logrus, the teacher's
// logging library, in the *logrus.Entry-per-component convention
// controller/api/destination/server.go and
// watcher/endpoints_watcher.go use throughout: every long-lived
// component holds one *logrus.Entry carrying its identifying fields
// (component, guid, topic, ...), derived once at construction and
// passed down rather than re-derived per call.
package rtpslog

import (
	"github.com/sirupsen/logrus"
)

// ParseLevel mirrors pkg/flags.ConfigureAndParse's level-parsing
// idiom, without the CLI flag registration (command-line front-ends
// are an explicit Non-goal): it applies level to the standard logger
// and returns an error for anything not one of logrus's named levels.
func ParseLevel(level string) error {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(l)
	return nil
}

// Component returns a base entry tagged with the given component
// name, the root every constructor in this repo derives its own
// *logrus.Entry from.
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}

// WithGUID adds a guid field in the format GUID.String() produces,
// without importing the guid package here (avoids a dependency cycle
// since guid-owning packages are themselves logging consumers).
func WithGUID(entry *logrus.Entry, guid string) *logrus.Entry {
	return entry.WithField("guid", guid)
}
