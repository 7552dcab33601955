package filecache

import (
	"context"
	"errors"
	"fmt"
)

var ErrParseFailed = errors.New("file content could not be extracted")

type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type Truncator interface {
	Truncate(s string, maxTokens int) (string, int, bool)
}

// Content is a cached file rendition trimmed to the read budget.
type Content struct {
	Entry     *Entry `json:"entry"`
	Text      string `json:"text"`
	Tokens    int    `json:"tokens"`
	Truncated bool   `json:"truncated"`
}

type Service struct {
	repo      Repository
	blobs     BlobReader
	truncator Truncator
	maxTokens int
}

func NewService(repo Repository, blobs BlobReader, truncator Truncator, maxTokens int) *Service {
	return &Service{repo: repo, blobs: blobs, truncator: truncator, maxTokens: maxTokens}
}

func (s *Service) Read(ctx context.Context, fileID string) (*Content, error) {
	e, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if e.ParseStatus == ParseFailed {
		return nil, fmt.Errorf("%w: %s", ErrParseFailed, e.Error)
	}
	if e.ContentKey == "" {
		return nil, ErrNotFound
	}

	raw, err := s.blobs.Get(ctx, e.ContentKey)
	if err != nil {
		return nil, fmt.Errorf("read cached content: %w", err)
	}

	text, tokens, truncated := s.truncator.Truncate(string(raw), s.maxTokens)
	return &Content{
		Entry:     e,
		Text:      text,
		Tokens:    tokens,
		Truncated: truncated || e.Truncated,
	}, nil
}
