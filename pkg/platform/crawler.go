package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeready-toolchain/scout/pkg/store"
	"github.com/codeready-toolchain/scout/pkg/tool"
)

// Crawler fetches one platform's post by its platform-native id and
// upserts it into the relational store, keyed on the natural key
// spec.md §4.7 specifies. "x" stands in for whichever concrete social
// platform a deployment configures; the fetch itself is a seam
// (FetchFn) since the core treats crawler:<platform> as opaque.
type Crawler struct {
	Platform string
	FetchFn  func(ctx context.Context, platformContentID string) (FetchedPost, error)
	Store    ContentStore
}

// ContentStore is the slice of *store.Client the crawler needs,
// narrowed to an interface so tests can substitute a fake instead of
// a real Postgres-backed Client.
type ContentStore interface {
	UpsertContent(ctx context.Context, row store.Content) (int64, error)
}

// FetchedPost is what a platform-specific fetch returns before it is
// persisted.
type FetchedPost struct {
	Author string
	Body   string
	URL    string
}

var crawlerParamsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"platform_content_id": {"type": "string"},
		"topic_id": {"type": "string"}
	},
	"required": ["platform_content_id"]
}`)

// Tool builds the "crawler:<platform>" tool.Tool wired to c.
func (c *Crawler) Tool() (*tool.Tool, error) {
	name := "crawler:" + c.Platform
	desc := fmt.Sprintf("Fetch one %s post by its platform content id and store it", c.Platform)
	return tool.New(name, desc, crawlerParamsSchema, c.handle)
}

func (c *Crawler) handle(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	contentID, _ := args["platform_content_id"].(string)
	if contentID == "" {
		return nil, fmt.Errorf("crawler:%s: missing platform_content_id", c.Platform)
	}
	topicID, _ := args["topic_id"].(string)

	fetch := c.FetchFn
	if fetch == nil {
		fetch = stubFetch
	}
	post, err := fetch(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("crawler:%s: fetch: %w", c.Platform, err)
	}

	row := store.Content{
		Platform:          c.Platform,
		PlatformContentID: contentID,
		TopicID:           topicID,
		Author:            post.Author,
		Body:              post.Body,
		URL:               post.URL,
	}
	id, err := c.Store.UpsertContent(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("crawler:%s: store: %w", c.Platform, err)
	}

	return map[string]interface{}{
		"content_id":          id,
		"platform_content_id": contentID,
		"author":              post.Author,
		"fetched_at":          time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// stubFetch is the default FetchFn: a deployment without a real
// platform integration configured still gets a runnable crawler that
// exercises the store end to end.
func stubFetch(_ context.Context, platformContentID string) (FetchedPost, error) {
	return FetchedPost{
		Author: "unknown",
		Body:   "stub content for " + platformContentID,
	}, nil
}
