package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/scout/pkg/store"
)

type fakeStore struct {
	rows []store.Content
	err  error
}

func (f *fakeStore) UpsertContent(ctx context.Context, row store.Content) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.rows = append(f.rows, row)
	return int64(len(f.rows)), nil
}

func TestCrawlerStubFetchUpsertsContent(t *testing.T) {
	fs := &fakeStore{}
	c := &Crawler{Platform: "x", Store: fs}
	tl, err := c.Tool()
	require.NoError(t, err)
	assert.Equal(t, "crawler:x", tl.Name)

	out, err := tl.Invoke(context.Background(), map[string]interface{}{
		"platform_content_id": "post-1",
		"topic_id":             "t-1",
	})
	require.NoError(t, err)

	require.Len(t, fs.rows, 1)
	assert.Equal(t, "x", fs.rows[0].Platform)
	assert.Equal(t, "post-1", fs.rows[0].PlatformContentID)
	assert.Equal(t, "t-1", fs.rows[0].TopicID)

	result := out.(map[string]interface{})
	assert.Equal(t, "post-1", result["platform_content_id"])
}

func TestCrawlerCustomFetchFnIsUsed(t *testing.T) {
	fs := &fakeStore{}
	c := &Crawler{
		Platform: "x",
		Store:    fs,
		FetchFn: func(ctx context.Context, id string) (FetchedPost, error) {
			return FetchedPost{Author: "alice", Body: "real content", URL: "http://x.example/" + id}, nil
		},
	}
	tl, err := c.Tool()
	require.NoError(t, err)

	_, err = tl.Invoke(context.Background(), map[string]interface{}{"platform_content_id": "42"})
	require.NoError(t, err)

	require.Len(t, fs.rows, 1)
	assert.Equal(t, "alice", fs.rows[0].Author)
	assert.Equal(t, "real content", fs.rows[0].Body)
}

func TestCrawlerFetchErrorPropagates(t *testing.T) {
	c := &Crawler{
		Platform: "x",
		Store:    &fakeStore{},
		FetchFn: func(ctx context.Context, id string) (FetchedPost, error) {
			return FetchedPost{}, errors.New("platform unavailable")
		},
	}
	tl, err := c.Tool()
	require.NoError(t, err)

	_, err = tl.Invoke(context.Background(), map[string]interface{}{"platform_content_id": "42"})
	assert.ErrorContains(t, err, "platform unavailable")
}

func TestCrawlerRejectsMissingContentID(t *testing.T) {
	c := &Crawler{Platform: "x", Store: &fakeStore{}}
	tl, err := c.Tool()
	require.NoError(t, err)

	_, err = tl.Invoke(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}
