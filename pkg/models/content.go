package models

import (
	"fmt"
	"strings"
	"time"
)

// ContentKind is the kind of item shown in a timeline.
type ContentKind string

const (
	ContentKindPost          ContentKind = "POST"
	ContentKindArticle       ContentKind = "ARTICLE"
	ContentKindPublication   ContentKind = "PUBLICATION"
	ContentKindCaseStudy     ContentKind = "CASE_STUDY"
	ContentKindJobPosting    ContentKind = "JOB_POSTING"
	ContentKindEvent         ContentKind = "EVENT"
	ContentKindAchievement   ContentKind = "ACHIEVEMENT"
	ContentKindCertification ContentKind = "CERTIFICATION"
)

// ContentItem is the canonical content record. Feed copies are point-in-time
// snapshots of it.
type ContentItem struct {
	ID            string      `json:"id"`
	AuthorID      string      `json:"author_id" validate:"required"`
	AuthorName    string      `json:"author_name"`
	AuthorPicURL  string      `json:"author_pic_url,omitempty"`
	Kind          ContentKind `json:"kind" validate:"required,oneof=POST ARTICLE PUBLICATION CASE_STUDY JOB_POSTING EVENT ACHIEVEMENT CERTIFICATION"`
	Body          string      `json:"body" validate:"required,max=10000"`
	MediaURLs     []string    `json:"media_urls,omitempty" validate:"max=10,dive,url"`
	Tags          []string    `json:"tags,omitempty" validate:"max=20"`
	LikesCount    int         `json:"likes_count"`
	CommentsCount int         `json:"comments_count"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Normalize fills the defaults applied before validation.
func (c *ContentItem) Normalize() {
	if c.Kind == "" {
		c.Kind = ContentKindPost
	}
	c.Kind = ContentKind(strings.ToUpper(string(c.Kind)))
	c.Body = strings.TrimSpace(c.Body)
}

// FeedRecord is one recipient's copy of a content item.
type FeedRecord struct {
	RecipientID string `json:"recipient_id"`
	ContentItem
}

// Cursor addresses a position inside a recipient partition. Ordering is
// created_at descending then content id ascending.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ContentID string    `json:"content_id"`
}

func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero()
}

// Before reports whether a record at (createdAt, contentID) sorts strictly after the cursor.
func (c Cursor) Before(createdAt time.Time, contentID string) bool {
	if c.IsZero() {
		return true
	}
	if createdAt.Before(c.CreatedAt) {
		return true
	}
	return createdAt.Equal(c.CreatedAt) && contentID > c.ContentID
}

func (c Cursor) String() string {
	if c.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d_%s", c.CreatedAt.UnixMilli(), c.ContentID)
}

// ParseCursor parses the "<unix millis>_<content id>" form produced by String.
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	millis, id, ok := strings.Cut(s, "_")
	if !ok {
		return Cursor{}, fmt.Errorf("malformed cursor %q: %w", s, ErrInvalidInput)
	}
	var ms int64
	if _, err := fmt.Sscanf(millis, "%d", &ms); err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor %q: %w", s, ErrInvalidInput)
	}
	return Cursor{CreatedAt: time.UnixMilli(ms).UTC(), ContentID: id}, nil
}

// CursorOf returns the cursor positioned at item.
func CursorOf(item ContentItem) Cursor {
	return Cursor{CreatedAt: item.CreatedAt, ContentID: item.ID}
}

// Comment on a content item.
type Comment struct {
	ID        string    `json:"id"`
	ContentID string    `json:"content_id"`
	AuthorID  string    `json:"author_id" validate:"required"`
	Body      string    `json:"body" validate:"required,max=2000"`
	CreatedAt time.Time `json:"created_at"`
}

// Counters are the aggregated engagement numbers of one content item.
type Counters struct {
	Likes    int `json:"likes"`
	Comments int `json:"comments"`
}
