// Package action defines every mutating operation that can be queued while
// offline. Each (service, method) pair is one concrete variant of the sealed
// Action interface, so the dispatcher and decoder switch over a closed set.
package action

import (
	"strings"

	"github.com/hpungsan/tilth/internal/model"
)

// Service identifies the functional domain an action belongs to.
type Service string

const (
	ServiceCommunity Service = "community"
	ServiceTracker   Service = "tracker"
	ServiceCalendar  Service = "calendar"
	ServiceKnowledge Service = "knowledge"
	ServiceDiagnosis Service = "diagnosis"
	ServiceContent   Service = "content"
	ServiceAdmin     Service = "admin"
)

// Kind is the "service.method" tag stored with every queued action.
type Kind string

const (
	KindAddReport          Kind = "diagnosis.addReport"
	KindUpdateTaskStatus   Kind = "calendar.updateTaskStatus"
	KindAddBookmark        Kind = "knowledge.addBookmark"
	KindAddOutcome         Kind = "tracker.addOutcome"
	KindAddPost            Kind = "community.addPost"
	KindSaveTutorial       Kind = "content.saveTutorial"
	KindUpdateTutorial     Kind = "content.updateTutorial"
	KindDeleteTutorial     Kind = "content.deleteTutorial"
	KindSaveSupplier       Kind = "content.saveSupplier"
	KindUpdateSupplier     Kind = "content.updateSupplier"
	KindDeleteSupplier     Kind = "content.deleteSupplier"
	KindSaveCalendarTask   Kind = "admin.saveCalendarTask"
	KindUpdateCalendarTask Kind = "admin.updateCalendarTask"
	KindDeleteCalendarTask Kind = "admin.deleteCalendarTask"
)

// Kinds lists every known action kind.
var Kinds = []Kind{
	KindAddReport,
	KindUpdateTaskStatus,
	KindAddBookmark,
	KindAddOutcome,
	KindAddPost,
	KindSaveTutorial,
	KindUpdateTutorial,
	KindDeleteTutorial,
	KindSaveSupplier,
	KindUpdateSupplier,
	KindDeleteSupplier,
	KindSaveCalendarTask,
	KindUpdateCalendarTask,
	KindDeleteCalendarTask,
}

// KindOf builds a Kind from its stored parts.
func KindOf(service, method string) Kind {
	return Kind(service + "." + method)
}

// Service returns the service part of the kind.
func (k Kind) Service() Service {
	s, _, _ := strings.Cut(string(k), ".")
	return Service(s)
}

// Method returns the method part of the kind.
func (k Kind) Method() string {
	_, m, _ := strings.Cut(string(k), ".")
	return m
}

// Action is a recorded intent to perform one mutating backend operation.
// The set of implementations is closed to this package.
type Action interface {
	Kind() Kind
	isAction()
}

// fileCarrier is implemented by variants that can carry an attachment.
type fileCarrier interface {
	File() *model.Attachment
}

// AddReport saves a crop diagnosis. Queued reports carry only the image and
// are diagnosed at dispatch time; the online path diagnoses first and sends
// the result along in Diagnosis.
type AddReport struct {
	UserID    string           `json:"user_id" validate:"required"`
	UserEmail string           `json:"user_email" validate:"required,email"`
	Diagnosis *model.Diagnosis `json:"diagnosis,omitempty"`
	Image     model.Attachment `json:"-"`
}

// UpdateTaskStatus sets a user's done flag on a calendar task.
type UpdateTaskStatus struct {
	UserID string `json:"userId" validate:"required"`
	TaskID string `json:"taskId" validate:"required,serverid"`
	IsDone bool   `json:"isDone"`
}

// AddBookmark saves a knowledge answer for the user.
type AddBookmark struct {
	UserID   string `json:"userId" validate:"required"`
	Question string `json:"question" validate:"required"`
	Answer   string `json:"answer" validate:"required"`
}

// AddOutcome records a harvest outcome.
type AddOutcome struct {
	model.Outcome
}

// AddPost publishes a community post with an optional image.
type AddPost struct {
	Content string            `json:"content" validate:"required"`
	UserID  string            `json:"userId" validate:"required"`
	Image   *model.Attachment `json:"-"`
}

// SaveTutorial creates a tutorial.
type SaveTutorial struct {
	model.Tutorial
}

// UpdateTutorial replaces a tutorial by id.
type UpdateTutorial struct {
	model.Tutorial
}

// DeleteTutorial removes a tutorial.
type DeleteTutorial struct {
	TutorialID string `json:"tutorialId" validate:"required,serverid"`
}

// SaveSupplier creates a supplier.
type SaveSupplier struct {
	model.Supplier
}

// UpdateSupplier replaces a supplier by id.
type UpdateSupplier struct {
	model.Supplier
}

// DeleteSupplier removes a supplier.
type DeleteSupplier struct {
	SupplierID string `json:"supplierId" validate:"required,serverid"`
}

// SaveCalendarTask creates a calendar task.
type SaveCalendarTask struct {
	model.CalendarTask
}

// UpdateCalendarTask replaces a calendar task by id.
type UpdateCalendarTask struct {
	model.CalendarTask
}

// DeleteCalendarTask removes a calendar task.
type DeleteCalendarTask struct {
	TaskID string `json:"taskId" validate:"required,serverid"`
}

func (AddReport) Kind() Kind          { return KindAddReport }
func (UpdateTaskStatus) Kind() Kind   { return KindUpdateTaskStatus }
func (AddBookmark) Kind() Kind        { return KindAddBookmark }
func (AddOutcome) Kind() Kind         { return KindAddOutcome }
func (AddPost) Kind() Kind            { return KindAddPost }
func (SaveTutorial) Kind() Kind       { return KindSaveTutorial }
func (UpdateTutorial) Kind() Kind     { return KindUpdateTutorial }
func (DeleteTutorial) Kind() Kind     { return KindDeleteTutorial }
func (SaveSupplier) Kind() Kind       { return KindSaveSupplier }
func (UpdateSupplier) Kind() Kind     { return KindUpdateSupplier }
func (DeleteSupplier) Kind() Kind     { return KindDeleteSupplier }
func (SaveCalendarTask) Kind() Kind   { return KindSaveCalendarTask }
func (UpdateCalendarTask) Kind() Kind { return KindUpdateCalendarTask }
func (DeleteCalendarTask) Kind() Kind { return KindDeleteCalendarTask }

func (AddReport) isAction()          {}
func (UpdateTaskStatus) isAction()   {}
func (AddBookmark) isAction()        {}
func (AddOutcome) isAction()         {}
func (AddPost) isAction()            {}
func (SaveTutorial) isAction()       {}
func (UpdateTutorial) isAction()     {}
func (DeleteTutorial) isAction()     {}
func (SaveSupplier) isAction()       {}
func (UpdateSupplier) isAction()     {}
func (DeleteSupplier) isAction()     {}
func (SaveCalendarTask) isAction()   {}
func (UpdateCalendarTask) isAction() {}
func (DeleteCalendarTask) isAction() {}

// File returns the report image.
func (a AddReport) File() *model.Attachment { return &a.Image }

// File returns the post image, or nil.
func (a AddPost) File() *model.Attachment { return a.Image }
