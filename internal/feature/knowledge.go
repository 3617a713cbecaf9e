package feature

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/action"
	"github.com/hpungsan/tilth/internal/backend"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
	"github.com/hpungsan/tilth/internal/optimistic"
)

// Knowledge is the question-and-answer area with bookmarks and history.
type Knowledge struct {
	d         Deps
	Bookmarks *optimistic.List[model.Bookmark]
	History   *optimistic.List[model.QuestionHistory]
}

// NewKnowledge creates an empty knowledge area.
func NewKnowledge(d Deps) *Knowledge {
	return &Knowledge{
		d:         d.withDefaults(),
		Bookmarks: optimistic.NewList[model.Bookmark](),
		History:   optimistic.NewList[model.QuestionHistory](),
	}
}

func (k *Knowledge) bookmarkQuery(userID string) backend.Query {
	return backend.Where("user_id", userID).Newest()
}

// Refresh reloads bookmarks and question history when online.
func (k *Knowledge) Refresh(ctx context.Context, userID string) error {
	if !k.d.online() {
		return nil
	}
	bookmarks, err := k.d.Backend.Bookmarks.Select(ctx, k.bookmarkQuery(userID))
	if err != nil {
		return remoteErr("knowledge.refresh", err)
	}
	history, err := k.d.Backend.QuestionHistory.Select(ctx, backend.Where("user_id", userID).Newest().WithLimit(10))
	if err != nil {
		return remoteErr("knowledge.refresh", err)
	}
	k.Bookmarks.Set(bookmarks)
	k.History.Set(history)
	return nil
}

// Ask answers question. Online, the answer comes from the AI and is cached
// and recorded in the user's history. Offline, only an exact cached
// question answers; anything else is NOT_AVAILABLE_OFFLINE.
func (k *Knowledge) Ask(ctx context.Context, user User, question string) (*model.KnowledgeAnswer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, errors.NewInvalidRequest("question is required")
	}
	if !k.d.online() {
		return k.d.Knowledge.Get(ctx, question)
	}

	answer, err := k.d.Answerer.Answer(ctx, question, k.d.Language())
	if err != nil {
		return nil, remoteErr("knowledge.ask", err)
	}
	answer.Question = question

	log := k.d.Logger.Named("knowledge")
	if err := k.d.Knowledge.Put(ctx, answer); err != nil {
		log.Warn("caching answer failed", zap.Error(err))
	}
	if user.ID != "" {
		rec, err := k.d.Backend.QuestionHistory.Insert(ctx, model.QuestionHistory{UserID: user.ID, Question: question})
		if err != nil {
			log.Warn("recording question history failed", zap.Error(err))
		} else {
			optimistic.Prepend(*rec)(k.History)
		}
	}
	return answer, nil
}

// Bookmark saves answer for the user and caches it for offline reading.
// A bookmark on the same question replaces the earlier one locally.
func (k *Knowledge) Bookmark(ctx context.Context, user User, answer *model.KnowledgeAnswer) (optimistic.Outcome, error) {
	if answer == nil {
		return "", errors.NewInvalidRequest("answer is required")
	}
	b := model.Bookmark{
		Record:   k.d.Runner.Placeholder(),
		UserID:   user.ID,
		Question: answer.Question,
		Answer:   answer.Answer,
	}
	out, err := optimistic.Apply(ctx, k.d.Runner, optimistic.Mutation[model.Bookmark]{
		List:    k.Bookmarks,
		Splice:  replaceQuestion(b),
		Action:  action.AddBookmark{UserID: user.ID, Question: answer.Question, Answer: answer.Answer},
		Refetch: fetcher(k.d.Backend.Bookmarks, k.bookmarkQuery(user.ID)),
	})
	if err != nil {
		return "", err
	}
	if err := k.d.Knowledge.Put(ctx, answer); err != nil {
		k.d.Logger.Named("knowledge").Warn("caching bookmarked answer failed", zap.Error(err))
	}
	return out, nil
}

// replaceQuestion drops bookmarks sharing b's question and prepends b.
func replaceQuestion(b model.Bookmark) optimistic.Splice[model.Bookmark] {
	return func(l *optimistic.List[model.Bookmark]) func() {
		var undos []func()
		for _, existing := range l.Snapshot() {
			if existing.Question == b.Question {
				undos = append(undos, optimistic.RemoveByID[model.Bookmark](existing.ID)(l))
			}
		}
		undos = append(undos, optimistic.Prepend(b)(l))
		return func() {
			for i := len(undos) - 1; i >= 0; i-- {
				undos[i]()
			}
		}
	}
}
