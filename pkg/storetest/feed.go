package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Feed is an in-memory feed store with the partition layout of the Scylla
// adapter: content by id, by author and by recipient, plus per-post engagement.
type Feed struct {
	Faults

	mu       sync.Mutex
	content  map[string]models.ContentItem
	authors  map[string]map[string]models.ContentItem
	feeds    map[string]map[string]models.ContentItem
	likes    map[string]map[string]time.Time
	comments map[string][]models.Comment
}

func NewFeed() *Feed {
	return &Feed{
		content:  map[string]models.ContentItem{},
		authors:  map[string]map[string]models.ContentItem{},
		feeds:    map[string]map[string]models.ContentItem{},
		likes:    map[string]map[string]time.Time{},
		comments: map[string][]models.Comment{},
	}
}

// FeedKey is the fault key of one recipient's feed partition.
func FeedKey(recipientID string) string {
	return "feed:" + recipientID
}

func (f *Feed) Ping(context.Context) error {
	return f.read("feedstore")
}

func (f *Feed) InsertContent(_ context.Context, item models.ContentItem) (models.ContentItem, bool, error) {
	if err := f.write("content"); err != nil {
		return models.ContentItem{}, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.content[item.ID]; ok {
		return existing, false, nil
	}
	f.content[item.ID] = item
	return item, true, nil
}

func (f *Feed) WriteAuthorCopy(_ context.Context, item models.ContentItem) error {
	if err := f.write("author:" + item.AuthorID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	partition(f.authors, item.AuthorID)[item.ID] = item
	return nil
}

func (f *Feed) WriteFeedRecord(_ context.Context, recipientID string, item models.ContentItem) error {
	if err := f.write(FeedKey(recipientID)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	partition(f.feeds, recipientID)[item.ID] = item
	return nil
}

func (f *Feed) GetContent(_ context.Context, contentID string) (models.ContentItem, error) {
	if err := f.read("content"); err != nil {
		return models.ContentItem{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.content[contentID]
	if !ok {
		return models.ContentItem{}, fmt.Errorf("content %s: %w", contentID, models.ErrNotFound)
	}
	return item, nil
}

func (f *Feed) ReadFeed(_ context.Context, recipientID string, cursor models.Cursor, limit int) ([]models.ContentItem, error) {
	if err := f.read(FeedKey(recipientID)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return page(f.feeds[recipientID], cursor, limit), nil
}

func (f *Feed) AuthorPosts(_ context.Context, authorID string, cursor models.Cursor, limit int) ([]models.ContentItem, error) {
	if err := f.read("author:" + authorID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return page(f.authors[authorID], cursor, limit), nil
}

func (f *Feed) UpdateCounters(_ context.Context, item models.ContentItem, counters models.Counters) error {
	if err := f.write("content"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if stored, ok := f.content[item.ID]; ok {
		stored.LikesCount, stored.CommentsCount = counters.Likes, counters.Comments
		f.content[item.ID] = stored
	}
	if stored, ok := f.authors[item.AuthorID][item.ID]; ok {
		stored.LikesCount, stored.CommentsCount = counters.Likes, counters.Comments
		f.authors[item.AuthorID][item.ID] = stored
	}
	return nil
}

func (f *Feed) DeleteContent(_ context.Context, item models.ContentItem) error {
	if err := f.write("content"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.content, item.ID)
	delete(f.authors[item.AuthorID], item.ID)
	return nil
}

func (f *Feed) AddLike(_ context.Context, contentID, userID string, at time.Time) error {
	if err := f.write("likes:" + contentID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.likes[contentID] == nil {
		f.likes[contentID] = map[string]time.Time{}
	}
	f.likes[contentID][userID] = at
	return nil
}

func (f *Feed) RemoveLike(_ context.Context, contentID, userID string) error {
	if err := f.write("likes:" + contentID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.likes[contentID], userID)
	return nil
}

func (f *Feed) CountLikes(_ context.Context, contentID string) (int, error) {
	if err := f.read("likes:" + contentID); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.likes[contentID]), nil
}

func (f *Feed) AddComment(_ context.Context, comment models.Comment) error {
	if err := f.write("comments:" + comment.ContentID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.comments[comment.ContentID] {
		if existing.ID == comment.ID {
			return nil
		}
	}
	f.comments[comment.ContentID] = append(f.comments[comment.ContentID], comment)
	return nil
}

func (f *Feed) ListComments(_ context.Context, contentID string, limit int) ([]models.Comment, error) {
	if err := f.read("comments:" + contentID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	comments := append([]models.Comment(nil), f.comments[contentID]...)
	sort.SliceStable(comments, func(i, j int) bool {
		if comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].ID < comments[j].ID
		}
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
	if limit > 0 && len(comments) > limit {
		comments = comments[:limit]
	}
	return comments, nil
}

func (f *Feed) CountComments(_ context.Context, contentID string) (int, error) {
	if err := f.read("comments:" + contentID); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.comments[contentID]), nil
}

// Copies returns how many copies of contentID the recipient's partition holds.
func (f *Feed) Copies(recipientID, contentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.feeds[recipientID][contentID]; ok {
		return 1
	}
	return 0
}

// AuthorCopy reports whether the author partition holds contentID.
func (f *Feed) AuthorCopy(authorID, contentID string) (models.ContentItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.authors[authorID][contentID]
	return item, ok
}

func partition(m map[string]map[string]models.ContentItem, key string) map[string]models.ContentItem {
	p, ok := m[key]
	if !ok {
		p = map[string]models.ContentItem{}
		m[key] = p
	}
	return p
}

// page orders a partition by created_at descending then content id ascending.
func page(items map[string]models.ContentItem, cursor models.Cursor, limit int) []models.ContentItem {
	out := make([]models.ContentItem, 0, len(items))
	for _, item := range items {
		if cursor.Before(item.CreatedAt, item.ID) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
