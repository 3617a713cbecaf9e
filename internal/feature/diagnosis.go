package feature

import (
	"context"

	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/action"
	"github.com/hpungsan/tilth/internal/backend"
	"github.com/hpungsan/tilth/internal/model"
	"github.com/hpungsan/tilth/internal/optimistic"
)

// Diagnosis runs crop diagnosis and keeps the user's saved reports.
type Diagnosis struct {
	d       Deps
	Reports *optimistic.List[model.Report]
}

// NewDiagnosis creates an empty report list.
func NewDiagnosis(d Deps) *Diagnosis {
	return &Diagnosis{d: d.withDefaults(), Reports: optimistic.NewList[model.Report]()}
}

// DiagnoseResult is what the user sees after submitting an image.
type DiagnoseResult struct {
	// Diagnosis is nil when the image was queued for later.
	Diagnosis *model.Diagnosis   `json:"diagnosis,omitempty"`
	Report    model.Report       `json:"report"`
	Outcome   optimistic.Outcome `json:"outcome"`
	// SaveErr is set when the diagnosis succeeded but saving the report failed.
	SaveErr error `json:"-"`
}

func (f *Diagnosis) query(userID string) backend.Query {
	return backend.Where("user_id", userID).Newest()
}

// Refresh reloads the user's reports when online.
func (f *Diagnosis) Refresh(ctx context.Context, userID string) error {
	if !f.d.online() {
		return nil
	}
	reports, err := f.d.Backend.Reports.Select(ctx, f.query(userID))
	if err != nil {
		return remoteErr("diagnosis.refresh", err)
	}
	f.Reports.Set(reports)
	return nil
}

// Submit diagnoses image. Online, the result is returned at once and then
// saved; NOT_A_PLANT and UNIDENTIFIABLE come back as errors and nothing is
// saved. Offline, the image is queued and diagnosed when it syncs.
func (f *Diagnosis) Submit(ctx context.Context, user User, image model.Attachment) (*DiagnoseResult, error) {
	placeholder := model.Report{
		Record:    f.d.Runner.Placeholder(),
		UserID:    user.ID,
		UserEmail: user.Email,
	}
	a := action.AddReport{UserID: user.ID, UserEmail: user.Email, Image: image}

	if !f.d.online() {
		out, err := optimistic.Apply(ctx, f.d.Runner, optimistic.Mutation[model.Report]{
			List:   f.Reports,
			Splice: optimistic.Prepend(placeholder),
			Action: a,
		})
		if err != nil {
			return nil, err
		}
		return &DiagnoseResult{Report: placeholder, Outcome: out}, nil
	}

	diag, err := f.d.Diagnoser.Diagnose(ctx, &image)
	if err != nil {
		return nil, remoteErr("diagnosis.diagnose", err)
	}
	if err := backend.CheckDiagnosis(diag); err != nil {
		return nil, err
	}

	placeholder.Disease = diag.Disease
	placeholder.Confidence = diag.Confidence
	placeholder.Treatment = diag.Treatment
	placeholder.AIExplanation = diag.AIExplanation
	placeholder.SimilarCases = diag.SimilarCases
	a.Diagnosis = diag

	res := &DiagnoseResult{Diagnosis: diag, Report: placeholder}
	res.Outcome, res.SaveErr = optimistic.Apply(ctx, f.d.Runner, optimistic.Mutation[model.Report]{
		List:    f.Reports,
		Splice:  optimistic.Prepend(placeholder),
		Action:  a,
		Refetch: fetcher(f.d.Backend.Reports, f.query(user.ID)),
	})
	if res.SaveErr != nil {
		f.d.Logger.Named("diagnosis").Warn("saving report failed", zap.Error(res.SaveErr))
	}
	return res, nil
}
