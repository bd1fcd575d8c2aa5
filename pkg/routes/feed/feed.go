package feed

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/timeline"
)

// Timeline is the read and engagement service. *timeline.Service implements it.
type Timeline interface {
	Timeline(ctx context.Context, userID string, page timeline.Page) (timeline.Result, error)
	AuthorPosts(ctx context.Context, authorID string, page timeline.Page) (timeline.Result, error)
	Like(ctx context.Context, contentID, userID string) (models.Counters, error)
	Unlike(ctx context.Context, contentID, userID string) (models.Counters, error)
	Comment(ctx context.Context, contentID string, comment models.Comment) (models.Comment, error)
	Comments(ctx context.Context, contentID string, limit int) ([]models.Comment, error)
	DeletePost(ctx context.Context, contentID, requesterID string) error
	RefreshAuthorCounters(ctx context.Context, authorID string) (int, error)
}

// Publisher fans new content out. *fanout.Engine implements it.
type Publisher interface {
	Publish(ctx context.Context, item models.ContentItem) (models.FanOutSummary, error)
}

// Handler handles feed API endpoints
type Handler struct {
	timeline  Timeline
	publisher Publisher
	logger    ectologger.Logger
}

// NewHandler creates a new feed handler
func NewHandler(timeline Timeline, publisher Publisher, logger ectologger.Logger) *Handler {
	return &Handler{
		timeline:  timeline,
		publisher: publisher,
		logger:    logger,
	}
}

// Register registers the feed routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/:userId", h.GetTimeline)
	g.GET("/authors/:authorId", h.GetAuthorPosts)
	g.POST("/authors/:authorId/refresh-counters", h.RefreshCounters)
	g.POST("/posts", h.CreatePost)
	g.DELETE("/posts/:postId", h.DeletePost)
	g.POST("/posts/:postId/likes", h.Like)
	g.DELETE("/posts/:postId/likes", h.Unlike)
	g.POST("/posts/:postId/comments", h.CreateComment)
	g.GET("/posts/:postId/comments", h.ListComments)
}

func page(c echo.Context) (timeline.Page, error) {
	p := timeline.Page{Before: c.QueryParam("before")}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return p, httperror.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		p.Limit = limit
	}
	return p, nil
}

// actor returns the acting member forwarded by the gateway.
func actor(c echo.Context) (string, error) {
	userID := fernctx.GetUserID(c.Request().Context())
	if userID == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "X-User-ID header is required")
	}
	return userID, nil
}

// GetTimeline returns a member's timeline
// @Summary Get timeline
// @Tags Feed
// @Produce json
// @Param userId path string true "Member ID"
// @Param limit query int false "Page size (default 20, max 100)"
// @Param before query string false "Cursor returned by the previous page"
// @Success 200 {object} timeline.Result
// @Failure 400 {object} httperror.HTTPError
// @Router /api/v1/feed/{userId} [get]
func (h *Handler) GetTimeline(c echo.Context) error {
	p, err := page(c)
	if err != nil {
		return err
	}
	result, err := h.timeline.Timeline(c.Request().Context(), c.Param("userId"), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// GetAuthorPosts returns the posts written by one member
// @Summary Get author posts
// @Tags Feed
// @Produce json
// @Param authorId path string true "Author ID"
// @Success 200 {object} timeline.Result
// @Router /api/v1/feed/authors/{authorId} [get]
func (h *Handler) GetAuthorPosts(c echo.Context) error {
	p, err := page(c)
	if err != nil {
		return err
	}
	result, err := h.timeline.AuthorPosts(c.Request().Context(), c.Param("authorId"), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// RefreshCounters recounts the likes and comments of every post by an author
// @Summary Refresh author counters
// @Tags Feed
// @Produce json
// @Param authorId path string true "Author ID"
// @Success 200 {object} map[string]int
// @Router /api/v1/feed/authors/{authorId}/refresh-counters [post]
func (h *Handler) RefreshCounters(c echo.Context) error {
	refreshed, err := h.timeline.RefreshAuthorCounters(c.Request().Context(), c.Param("authorId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"refreshed": refreshed})
}

// PostRequest is the body of a new post. Identity, authorship, timestamps and
// counters are assigned by the server.
type PostRequest struct {
	Kind      models.ContentKind `json:"kind"`
	Body      string             `json:"body"`
	MediaURLs []string           `json:"media_urls,omitempty"`
	Tags      []string           `json:"tags,omitempty"`
}

// CreatePost publishes a post and fans it out to the author's audience
// @Summary Create post
// @Tags Feed
// @Accept json
// @Produce json
// @Param body body PostRequest true "Post"
// @Success 201 {object} models.FanOutSummary
// @Failure 400 {object} httperror.HTTPError
// @Router /api/v1/feed/posts [post]
func (h *Handler) CreatePost(c echo.Context) error {
	userID, err := actor(c)
	if err != nil {
		return err
	}
	var req PostRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	summary, err := h.publisher.Publish(c.Request().Context(), models.ContentItem{
		AuthorID:  userID,
		Kind:      req.Kind,
		Body:      req.Body,
		MediaURLs: req.MediaURLs,
		Tags:      req.Tags,
	})
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if summary.Duplicate {
		status = http.StatusOK
	}
	return c.JSON(status, summary)
}

// DeletePost removes a post. Only its author may delete it.
func (h *Handler) DeletePost(c echo.Context) error {
	userID, err := actor(c)
	if err != nil {
		return err
	}
	if err := h.timeline.DeletePost(c.Request().Context(), c.Param("postId"), userID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Like(c echo.Context) error {
	userID, err := actor(c)
	if err != nil {
		return err
	}
	counters, err := h.timeline.Like(c.Request().Context(), c.Param("postId"), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counters)
}

func (h *Handler) Unlike(c echo.Context) error {
	userID, err := actor(c)
	if err != nil {
		return err
	}
	counters, err := h.timeline.Unlike(c.Request().Context(), c.Param("postId"), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counters)
}

// CommentRequest is the request body for commenting on a post
type CommentRequest struct {
	Body string `json:"body"`
}

func (h *Handler) CreateComment(c echo.Context) error {
	userID, err := actor(c)
	if err != nil {
		return err
	}
	var req CommentRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	comment, err := h.timeline.Comment(c.Request().Context(), c.Param("postId"), models.Comment{
		AuthorID: userID,
		Body:     req.Body,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, comment)
}

func (h *Handler) ListComments(c echo.Context) error {
	p, err := page(c)
	if err != nil {
		return err
	}
	comments, err := h.timeline.Comments(c.Request().Context(), c.Param("postId"), p.Limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": comments})
}
