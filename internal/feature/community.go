package feature

import (
	"context"

	"github.com/hpungsan/tilth/internal/action"
	"github.com/hpungsan/tilth/internal/backend"
	"github.com/hpungsan/tilth/internal/model"
	"github.com/hpungsan/tilth/internal/optimistic"
)

// Community is the shared post feed.
type Community struct {
	d     Deps
	Posts *optimistic.List[model.Post]
}

// NewCommunity creates an empty feed.
func NewCommunity(d Deps) *Community {
	return &Community{d: d.withDefaults(), Posts: optimistic.NewList[model.Post]()}
}

func (c *Community) query() backend.Query {
	return backend.Query{}.Newest()
}

// Refresh reloads the feed when online. Offline the current list is kept.
func (c *Community) Refresh(ctx context.Context) error {
	if !c.d.online() {
		return nil
	}
	posts, err := c.d.Backend.Posts.Select(ctx, c.query())
	if err != nil {
		return remoteErr("community.refresh", err)
	}
	c.Posts.Set(posts)
	return nil
}

// AddPost shows a placeholder post at the top of the feed and publishes it.
// The returned post is the placeholder.
func (c *Community) AddPost(ctx context.Context, user User, content string, image *model.Attachment) (model.Post, optimistic.Outcome, error) {
	post := model.Post{
		Record:  c.d.Runner.Placeholder(),
		Content: content,
		UserID:  user.ID,
	}
	out, err := optimistic.Apply(ctx, c.d.Runner, optimistic.Mutation[model.Post]{
		List:    c.Posts,
		Splice:  optimistic.Prepend(post),
		Action:  action.AddPost{Content: content, UserID: user.ID, Image: image},
		Refetch: fetcher(c.d.Backend.Posts, c.query()),
	})
	return post, out, err
}
