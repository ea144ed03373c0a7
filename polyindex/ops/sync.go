package ops

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/polyindex/polyindex/polyindex/engine"
	perrors "github.com/polyindex/polyindex/polyindex/errors"
	"github.com/polyindex/polyindex/polyindex/mapping"
	"github.com/polyindex/polyindex/polyindex/metrics"
	"github.com/polyindex/polyindex/polyindex/model"
)

// SyncState is one step of a family's schema sync.
type SyncState string

const (
	StateAbsent           SyncState = "absent"
	StateCreated          SyncState = "created"
	StateSchemaInstalled  SyncState = "schema-installed"
	StateMismatchDetected SyncState = "mismatch-detected"
	StateForceUpdated     SyncState = "force-updated"
	StateRejected         SyncState = "rejected"
	StateReady            SyncState = "ready"
)

type SyncOptions struct {
	// Suffix selects the generation; empty targets the index behind the alias.
	Suffix string
	// DropExisting deletes the generation first. Only honoured with a Suffix.
	DropExisting bool
	// Force closes the index to apply non-dynamic settings.
	Force bool
}

type DocTypeResult struct {
	Name string
	Err  error
}

type FamilyReport struct {
	Root     *model.Type
	Index    string
	States   []SyncState
	DocTypes []DocTypeResult
	Err      error
}

func (f *FamilyReport) enter(s SyncState) { f.States = append(f.States, s) }

// Final is the last state reached.
func (f *FamilyReport) Final() SyncState {
	if len(f.States) == 0 {
		return ""
	}
	return f.States[len(f.States)-1]
}

type SyncReport struct {
	Families []*FamilyReport
}

// Family returns the report for root, or nil.
func (r *SyncReport) Family(root *model.Type) *FamilyReport {
	for _, f := range r.Families {
		if f.Root == root {
			return f
		}
	}
	return nil
}

// Synchronizer brings every registered family's index settings and mappings
// in line with the registered types.
type Synchronizer struct {
	env Env
}

func NewSynchronizer(env Env) *Synchronizer {
	return &Synchronizer{env: env.withDefaults()}
}

// Sync processes every family. A family that fails does not stop the others;
// the returned error joins every family's failure.
func (s *Synchronizer) Sync(ctx context.Context, opts SyncOptions) (*SyncReport, error) {
	report := &SyncReport{}
	var errs []error
	for _, root := range s.env.Registry.Roots() {
		fr := s.syncFamily(ctx, root, opts)
		report.Families = append(report.Families, fr)
		if fr.Err != nil {
			errs = append(errs, fr.Err)
		}
	}
	return report, errors.Join(errs...)
}

func (s *Synchronizer) syncFamily(ctx context.Context, root *model.Type, opts SyncOptions) *FamilyReport {
	fr := &FamilyReport{Root: root}
	log := s.env.Logger.With(zap.String("family", root.QualifiedName()))

	index, err := s.target(ctx, root, opts.Suffix)
	if err != nil {
		fr.Err = err
		return fr
	}
	fr.Index = index
	log = log.With(zap.String("index", index))

	if opts.DropExisting && opts.Suffix != "" {
		err := s.env.Engine.DeleteIndex(ctx, index)
		switch {
		case err == nil:
			log.Info("dropped existing index")
		case errors.Is(err, engine.ErrIndexNotFound):
		default:
			fr.Err = perrors.Wrap(perrors.ErrEngine, "drop index "+index, err)
			return fr
		}
	}

	if err := s.settle(ctx, fr, index, opts.Force, log); err != nil {
		fr.Err = err
		return fr
	}

	var failed []string
	for _, t := range s.env.Registry.Family(root) {
		res := DocTypeResult{Name: t.DocTypeName()}
		res.Err = s.installMapping(ctx, index, t)
		if res.Err != nil {
			failed = append(failed, res.Name)
			s.env.Metrics.SyncDocTypes.WithLabelValues(metrics.ResultFailed).Inc()
			log.Warn("mapping rejected", zap.String("type", res.Name), zap.Error(res.Err))
		} else {
			s.env.Metrics.SyncDocTypes.WithLabelValues(metrics.ResultInstalled).Inc()
		}
		fr.DocTypes = append(fr.DocTypes, res)
	}
	fr.enter(StateSchemaInstalled)
	if len(failed) > 0 {
		fr.Err = perrors.NewError(perrors.ErrSchemaConflict, fmt.Sprintf(
			"index %s: mappings rejected for %s", index, strings.Join(failed, ", ")))
		return fr
	}
	fr.enter(StateReady)
	log.Info("index ready", zap.Int("doctypes", len(fr.DocTypes)))
	return fr
}

// target resolves the concrete index name for root.
func (s *Synchronizer) target(ctx context.Context, root *model.Type, suffix string) (string, error) {
	if suffix != "" {
		return s.env.Naming.Generation(root, suffix), nil
	}
	return resolveAlias(ctx, s.env.Engine, s.env.Naming.Index(root))
}

// settle creates the index or brings the settings of an existing one up to date.
func (s *Synchronizer) settle(ctx context.Context, fr *FamilyReport, index string, force bool, log *zap.Logger) error {
	settings := *s.env.Settings
	err := s.env.Engine.CreateIndex(ctx, index, settings)
	if err == nil {
		fr.enter(StateAbsent)
		fr.enter(StateCreated)
		log.Info("index created")
		return nil
	}
	if !errors.Is(err, engine.ErrIndexExists) {
		return perrors.Wrap(perrors.ErrEngine, "create index "+index, err)
	}

	err = s.env.Engine.PutSettings(ctx, index, settings)
	if err == nil {
		return nil
	}
	if !errors.Is(err, engine.ErrSettingsNotDynamic) {
		return perrors.Wrap(perrors.ErrEngine, "update settings of "+index, err)
	}
	fr.enter(StateMismatchDetected)
	if !force {
		fr.enter(StateRejected)
		return perrors.NewError(perrors.ErrSchemaConflict, fmt.Sprintf(
			"Index '%s' already exists, and you're trying to update non-dynamic settings. "+
				"You will need to use a new suffix, or use the --force option", index))
	}

	log.Warn("closing index to apply non-dynamic settings")
	if err := s.env.Engine.CloseIndex(ctx, index); err != nil {
		return perrors.Wrap(perrors.ErrEngine, "close index "+index, err)
	}
	putErr := s.env.Engine.PutSettings(ctx, index, settings)
	if err := s.env.Engine.OpenIndex(ctx, index); err != nil {
		return perrors.Wrap(perrors.ErrEngine, "reopen index "+index, errors.Join(putErr, err))
	}
	if putErr != nil {
		return perrors.Wrap(perrors.ErrEngine, "force settings of "+index, putErr)
	}
	fr.enter(StateForceUpdated)
	return nil
}

func (s *Synchronizer) installMapping(ctx context.Context, index string, t *model.Type) error {
	m, err := MappingFor(t)
	if err != nil {
		return err
	}
	name := t.DocTypeName()
	if err := s.env.Engine.PutMapping(ctx, index, name, m); err != nil {
		if errors.Is(err, engine.ErrMappingConflict) {
			return &perrors.Error{Code: perrors.ErrSchemaConflict, Msg: "put mapping " + name, Cause: err}
		}
		return perrors.Wrap(perrors.ErrEngine, "put mapping "+name, err)
	}
	return nil
}

// resolveAlias returns the concrete index alias points at. An index carrying the
// alias name itself also qualifies.
func resolveAlias(ctx context.Context, client engine.Client, alias string) (string, error) {
	aliases, err := client.GetAliases(ctx)
	if err != nil {
		return "", perrors.Wrap(perrors.ErrEngine, "get aliases", err)
	}
	var found []string
	for index, names := range aliases {
		for _, n := range names {
			if n == alias {
				found = append(found, index)
			}
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		if _, ok := aliases[alias]; ok {
			return alias, nil
		}
		return "", perrors.NotFoundError(fmt.Sprintf("index aliased as %s; pass a suffix to create a generation", alias))
	}
	return "", perrors.NewError(perrors.ErrAlias, fmt.Sprintf("alias %s points to %d indices", alias, len(found)))
}

// MappingFor is the engine mapping installed for t's document type.
func MappingFor(t *model.Type) (engine.Mapping, error) {
	dt, err := mapping.NewDocType(t)
	if err != nil {
		return engine.Mapping{}, err
	}
	return dt.Mapping(), nil
}
