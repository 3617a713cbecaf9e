package action

import (
	"encoding/json"
	"fmt"

	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
)

// Payload is the stored form of an action's arguments: either JSON alone or
// JSON plus one binary attachment.
type Payload interface {
	Body() json.RawMessage
	isPayload()
}

// JSONOnly is a payload with no attachment.
type JSONOnly struct {
	JSON json.RawMessage
}

// WithAttachment is a payload that carries a file alongside its JSON.
type WithAttachment struct {
	JSON       json.RawMessage
	Attachment model.Attachment
}

func (p JSONOnly) Body() json.RawMessage       { return p.JSON }
func (p WithAttachment) Body() json.RawMessage { return p.JSON }
func (JSONOnly) isPayload()                    {}
func (WithAttachment) isPayload()              {}

// Encode converts an action into its stored payload.
func Encode(a Action) (Payload, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", a.Kind(), err)
	}
	if fc, ok := a.(fileCarrier); ok {
		if f := fc.File(); f != nil {
			return WithAttachment{JSON: body, Attachment: *f}, nil
		}
	}
	return JSONOnly{JSON: body}, nil
}

// Decode rebuilds an action from its stored kind and payload.
// An unrecognized kind returns UNKNOWN_ACTION.
func Decode(kind Kind, p Payload) (Action, error) {
	switch kind {
	case KindAddReport:
		a, err := decodeJSON[AddReport](kind, p)
		if err != nil {
			return nil, err
		}
		if wa, ok := p.(WithAttachment); ok {
			a.Image = wa.Attachment
		}
		return a, nil
	case KindUpdateTaskStatus:
		return decodeJSON[UpdateTaskStatus](kind, p)
	case KindAddBookmark:
		return decodeJSON[AddBookmark](kind, p)
	case KindAddOutcome:
		return decodeJSON[AddOutcome](kind, p)
	case KindAddPost:
		a, err := decodeJSON[AddPost](kind, p)
		if err != nil {
			return nil, err
		}
		if wa, ok := p.(WithAttachment); ok {
			att := wa.Attachment
			a.Image = &att
		}
		return a, nil
	case KindSaveTutorial:
		return decodeJSON[SaveTutorial](kind, p)
	case KindUpdateTutorial:
		return decodeJSON[UpdateTutorial](kind, p)
	case KindDeleteTutorial:
		return decodeJSON[DeleteTutorial](kind, p)
	case KindSaveSupplier:
		return decodeJSON[SaveSupplier](kind, p)
	case KindUpdateSupplier:
		return decodeJSON[UpdateSupplier](kind, p)
	case KindDeleteSupplier:
		return decodeJSON[DeleteSupplier](kind, p)
	case KindSaveCalendarTask:
		return decodeJSON[SaveCalendarTask](kind, p)
	case KindUpdateCalendarTask:
		return decodeJSON[UpdateCalendarTask](kind, p)
	case KindDeleteCalendarTask:
		return decodeJSON[DeleteCalendarTask](kind, p)
	default:
		return nil, errors.NewUnknownAction(string(kind.Service()), kind.Method())
	}
}

func decodeJSON[T Action](kind Kind, p Payload) (T, error) {
	var a T
	if p == nil {
		return a, errors.NewInvalidRequest(fmt.Sprintf("%s: missing payload", kind))
	}
	if err := json.Unmarshal(p.Body(), &a); err != nil {
		return a, errors.NewInvalidRequest(fmt.Sprintf("%s: invalid payload: %v", kind, err))
	}
	return a, nil
}
