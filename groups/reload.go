package groups

import (
	"github.com/cockroachdb/errors"
	"github.com/maxpert/groupd/membership"
	"github.com/rs/zerolog/log"
)

// ReloadConfiguration switches to a new roster. Only allowed in GOP, and
// only when every daemon we share state with is still listed.
func (e *Engine) ReloadConfiguration(conf *membership.Configuration) error {
	if e.failure != nil {
		return e.failure
	}
	if e.state != StateOperational {
		return errors.Wrapf(ErrNotOperational, "reload configuration in state %s", e.state)
	}
	self, ok := conf.ProcByID(e.self.ID)
	if !ok || self.Name != e.self.Name {
		return errors.Wrapf(ErrRosterMissing, "self %s", e.self.Name)
	}
	for _, id := range e.synced.Procs() {
		if !conf.Contains(id) {
			return errors.Wrapf(ErrRosterMissing, "synced daemon %s", id)
		}
	}

	e.conf = conf
	e.registry.Reorder(conf)
	resorted := NewSyncedSet(e.self.ID)
	var others []membership.ProcID
	for _, id := range e.synced.Procs() {
		if id != e.self.ID {
			others = append(others, id)
		}
	}
	if err := resorted.Union(conf, others); err != nil {
		return e.fail(err)
	}
	e.synced = resorted

	log.Info().
		Str("daemon", e.self.Name).
		Int("roster", conf.NumProcs()).
		Int("groups", e.registry.Len()).
		Msg("Configuration reloaded")
	return nil
}
