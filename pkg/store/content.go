package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a natural-key lookup has no match.
var ErrNotFound = errors.New("store: content not found")

// Content is one ingested row, keyed by (platform, platform_content_id)
// per spec.md §4.7.
type Content struct {
	ID                int64
	Platform          string
	PlatformContentID string
	TopicID           string
	Author            string
	Body              string
	URL               string
	FetchedAt         time.Time
	Metadata          map[string]any
}

// UpsertContent inserts or updates a row by its natural key, the only
// write primitive the core requires of the relational store ("idempotent
// on natural keys", spec.md §4.7). Re-running the same crawl never
// produces duplicate rows.
func (c *Client) UpsertContent(ctx context.Context, row Content) (int64, error) {
	meta := row.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("store: marshal metadata: %w", err)
	}

	const q = `
INSERT INTO ingested_content (platform, platform_content_id, topic_id, author, body, url, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (platform, platform_content_id) DO UPDATE SET
	topic_id = EXCLUDED.topic_id,
	author   = EXCLUDED.author,
	body     = EXCLUDED.body,
	url      = EXCLUDED.url,
	metadata = EXCLUDED.metadata
RETURNING id`

	var id int64
	err = c.pool.QueryRow(ctx, q, row.Platform, row.PlatformContentID, row.TopicID, row.Author, row.Body, row.URL, metaJSON).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: upsert content: %w", err)
	}
	return id, nil
}

// GetContent looks a row up by its natural key.
func (c *Client) GetContent(ctx context.Context, platform, platformContentID string) (*Content, error) {
	const q = `
SELECT id, platform, platform_content_id, COALESCE(topic_id, ''), COALESCE(author, ''), body, COALESCE(url, ''), fetched_at, metadata
FROM ingested_content
WHERE platform = $1 AND platform_content_id = $2`

	row := c.pool.QueryRow(ctx, q, platform, platformContentID)
	return scanContent(row)
}

// ListByTopic scans rows for a topic, newest first, capped at limit.
// This is the "scan/filter by simple predicates" primitive spec.md
// §4.7 requires, nothing more elaborate (no query builder).
func (c *Client) ListByTopic(ctx context.Context, topicID string, limit int) ([]Content, error) {
	const q = `
SELECT id, platform, platform_content_id, COALESCE(topic_id, ''), COALESCE(author, ''), body, COALESCE(url, ''), fetched_at, metadata
FROM ingested_content
WHERE topic_id = $1
ORDER BY fetched_at DESC
LIMIT $2`

	rows, err := c.pool.Query(ctx, q, topicID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list by topic: %w", err)
	}
	defer rows.Close()

	var out []Content
	for rows.Next() {
		row, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContent(row scanner) (*Content, error) {
	var c Content
	var metaJSON []byte
	err := row.Scan(&c.ID, &c.Platform, &c.PlatformContentID, &c.TopicID, &c.Author, &c.Body, &c.URL, &c.FetchedAt, &metaJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan content: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &c.Metadata); err != nil {
			return nil, fmt.Errorf("store: unmarshal metadata: %w", err)
		}
	}
	return &c, nil
}
