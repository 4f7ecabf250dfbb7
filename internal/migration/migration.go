// Package migration upgrades persisted page data written by older versions.
package migration

import (
	"context"
	"fmt"

	"go-pagewatch/internal/configstore"
	"go-pagewatch/internal/data"
	"go-pagewatch/internal/logger"
)

// LatestVersion is the schema version written by this build.
const LatestVersion = 3

// MigrationError reports a step that could not be applied. The store stays
// at the last version that was committed.
type MigrationError struct {
	Version int
	Name    string
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration to version %d (%s) failed: %v", e.Version, e.Name, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// Step upgrades raw records to Version. Apply returns only the records it
// changed and must be idempotent.
type Step struct {
	Version int
	Name    string
	Apply   func(records []data.Record) ([]data.Record, error)
}

// Migrator runs the pending steps.
type Migrator struct {
	store    data.Store
	settings *configstore.Store
	log      logger.Logger
	steps    []Step
}

// New creates a Migrator over store. settings must be backed by the same
// store; it is reloaded before versions are compared.
func New(store data.Store, settings *configstore.Store, log logger.Logger) *Migrator {
	return &Migrator{
		store:    store,
		settings: settings,
		log:      log.With(map[string]interface{}{"component": "migration"}),
		steps:    defaultSteps(),
	}
}

func defaultSteps() []Step {
	return []Step{
		{Version: 1, Name: "rename scan rate", Apply: renameScanRate},
		{Version: 2, Name: "split page state", Apply: splitPageState},
		{Version: 3, Name: "rebuild folder children", Apply: rebuildChildren},
	}
}

// IsUpToDate reports whether the persisted schema version is current.
func (m *Migrator) IsUpToDate(ctx context.Context) (bool, error) {
	if err := m.settings.Load(ctx); err != nil {
		return false, err
	}
	return m.settings.SchemaVersion() >= LatestVersion, nil
}

// Migrate applies every step newer than the persisted version. Each step's
// records are committed together with the new version number. A store
// without records is left untouched, whatever its first-run flag says.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.settings.Load(ctx); err != nil {
		return err
	}
	current := m.settings.SchemaVersion()

	for _, step := range m.steps {
		if step.Version <= current {
			continue
		}
		records, err := m.store.LoadRecords(ctx)
		if err != nil {
			return &MigrationError{Version: step.Version, Name: step.Name, Err: err}
		}
		if len(records) == 0 {
			// Fresh store. The first run stamps the latest version.
			return nil
		}
		changed, err := step.Apply(records)
		if err != nil {
			return &MigrationError{Version: step.Version, Name: step.Name, Err: err}
		}

		b := data.Batch{
			Put:      changed,
			Settings: map[string]string{configstore.KeySchemaVersion: fmt.Sprint(step.Version)},
		}
		if err := m.store.Commit(ctx, b); err != nil {
			return &MigrationError{Version: step.Version, Name: step.Name, Err: err}
		}
		if err := m.settings.Load(ctx); err != nil {
			return &MigrationError{Version: step.Version, Name: step.Name, Err: err}
		}
		current = step.Version
		m.log.Info(fmt.Sprintf("Migrated data to version %d (%s), %d records changed", step.Version, step.Name, len(changed)))
	}
	return nil
}
