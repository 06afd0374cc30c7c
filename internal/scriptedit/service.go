package scriptedit

import (
	"context"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sirupsen/logrus"

	"github.com/sammcj/mcp-workspace/internal/anchors"
	"github.com/sammcj/mcp-workspace/internal/patch"
	"github.com/sammcj/mcp-workspace/internal/source"
	"github.com/sammcj/mcp-workspace/internal/validate"
)

// Service runs fetch, patch, validate and commit against a FileStore.
type Service struct {
	store        FileStore
	snapshots    Snapshots
	orchestrator *patch.Orchestrator
	validator    *validate.Validator
	logger       *logrus.Logger
}

// New creates a service. snapshots may be nil to disable local snapshots.
func New(store FileStore, snapshots Snapshots, orchestrator *patch.Orchestrator, validator *validate.Validator, logger *logrus.Logger) *Service {
	return &Service{
		store:        store,
		snapshots:    snapshots,
		orchestrator: orchestrator,
		validator:    validator,
		logger:       logger,
	}
}

// PatchRequest is one patch against one project file.
type PatchRequest struct {
	ProjectID string
	patch.Request
	DryRun bool
}

// PatchResult is the report returned to callers.
type PatchResult struct {
	patch.Report
	FileName    string      `json:"file_name"`
	FinalState  patch.State `json:"final_state"`
	Committed   bool        `json:"committed"`
	DryRun      bool        `json:"dry_run,omitempty"`
	SnapshotID  string      `json:"snapshot_id,omitempty"`
	PreviewDiff string      `json:"preview_diff,omitempty"`
	Summary     string      `json:"summary"`
}

// Patch applies req to one file. The returned error is non-nil only for
// invalid requests, unknown files and remote store failures; a patch that
// fails or is rolled back is reported with Committed false.
func (s *Service) Patch(ctx context.Context, req PatchRequest) (*PatchResult, error) {
	if req.ProjectID == "" {
		return nil, &patch.UserInputError{Message: "project_id is required"}
	}
	if req.FileName == "" {
		return nil, &patch.UserInputError{Message: "file_name is required"}
	}

	files, idx, err := s.fetchFile(ctx, req.ProjectID, req.FileName)
	if err != nil {
		return nil, err
	}
	file := files[idx]
	lang := validate.LanguageForFile(file.Name, file.Type)

	log := s.logger.WithFields(logrus.Fields{"project_id": req.ProjectID, "file": file.Name})

	r := req.Request
	r.FileName = file.DisplayName()
	outcome, err := s.orchestrator.Apply(file.Content, lang, r)
	if err != nil {
		return nil, err
	}

	res := &PatchResult{
		Report:     outcome.Report,
		FileName:   file.Name,
		FinalState: outcome.Report.FinalState(),
		DryRun:     req.DryRun,
	}

	switch {
	case !outcome.Report.Success:
		log.WithError(outcome.Report.Err()).Info("Patch not applied")
	case req.DryRun:
		res.PreviewDiff = previewDiff(file, outcome.Content)
	case outcome.Content == file.Content:
		log.Debug("Patch produced no change, skipping commit")
	default:
		snapshotID, err := s.commit(ctx, req.ProjectID, files, idx, outcome.Content, "patch:"+string(outcome.Report.Method))
		if err != nil {
			return nil, err
		}
		res.Committed = true
		res.SnapshotID = snapshotID
		log.WithFields(logrus.Fields{
			"method":       outcome.Report.Method,
			"bytes_before": outcome.Report.BytesBefore,
			"bytes_after":  outcome.Report.BytesAfter,
			"syntax_ok":    outcome.Report.SyntaxOK,
		}).Info("Patch committed")
	}

	res.Summary = res.summary()
	return res, nil
}

func (r *PatchResult) summary() string {
	s := r.Report.Summary()
	switch {
	case r.Committed:
		s += fmt.Sprintf("\nCommitted %s", r.FileName)
		if r.SnapshotID != "" {
			s += fmt.Sprintf(" (snapshot %s)", r.SnapshotID)
		}
	case r.Success && r.DryRun:
		s += "\nDry run: nothing was written"
	}
	return s
}

// previewDiff renders a unified diff between f and the patched content.
func previewDiff(f source.File, patched string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(f.Content),
		B:        difflib.SplitLines(patched),
		FromFile: "a/" + f.DisplayName(),
		ToFile:   "b/" + f.DisplayName(),
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}

// AnchorsResult is the outcome of GenerateAnchors.
type AnchorsResult struct {
	anchors.Result
	FileName    string           `json:"file_name"`
	Committed   bool             `json:"committed"`
	SnapshotID  string           `json:"snapshot_id,omitempty"`
	Validation  *validate.Result `json:"validation,omitempty"`
	PreviewDiff string           `json:"preview_diff,omitempty"`
}

// GenerateAnchors inserts anchors into one file. With preview set nothing
// is written. The annotated content passes the validator before commit.
func (s *Service) GenerateAnchors(ctx context.Context, projectID, fileName string, preview bool) (*AnchorsResult, error) {
	files, idx, err := s.fetchFile(ctx, projectID, fileName)
	if err != nil {
		return nil, err
	}
	file := files[idx]
	lang := validate.LanguageForFile(file.Name, file.Type)
	mode, err := anchors.ModeFor(lang)
	if err != nil {
		return nil, &patch.UserInputError{Message: err.Error()}
	}

	gen := anchors.Generate(file.Content, mode)
	if preview {
		res := &AnchorsResult{Result: anchors.Preview(file.Content, mode), FileName: file.Name}
		if len(gen.Anchors) > 0 {
			res.PreviewDiff = previewDiff(file, gen.Content)
		}
		return res, nil
	}

	res := &AnchorsResult{Result: gen, FileName: file.Name}
	if len(gen.Anchors) == 0 {
		return res, nil
	}

	result := s.validator.Validate(lang, gen.Content, file.Content)
	res.Validation = &result
	if !result.IsValid {
		return nil, fmt.Errorf("anchored content did not validate, nothing written: %w", result.Err(lang))
	}

	snapshotID, err := s.commit(ctx, projectID, files, idx, gen.Content, "anchors")
	if err != nil {
		return nil, err
	}
	res.Committed = true
	res.SnapshotID = snapshotID

	s.logger.WithFields(logrus.Fields{
		"project_id": projectID,
		"file":       file.Name,
		"anchors":    len(gen.Anchors),
	}).Info("Anchors committed")
	return res, nil
}
