package connector

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
)

// Mock is a scripted Connector for tests and local demo runs. Pages are
// served in order via the cursor; SendReply records calls and can be forced
// to fail.
type Mock struct {
	mu sync.Mutex

	// Pages served in order. Cursor "" is page 0, "1" is page 1, and so on.
	Pages []Page

	// ListErr, when set, is returned by every ListItems call.
	ListErr error
	// SendErr, when set, is returned by every SendReply call.
	SendErr error

	// ListCalls counts ListItems invocations.
	ListCalls int
	// Replies records every successful SendReply as externalID -> text.
	Replies map[string]string
}

// NewMock creates a Mock serving the given pages.
func NewMock(pages ...Page) *Mock {
	return &Mock{Pages: pages, Replies: make(map[string]string)}
}

// MockFactory returns a registry Factory that always yields m.
func MockFactory(m *Mock) Factory {
	return func(sellerID string, _ json.RawMessage) (Connector, error) {
		return m, nil
	}
}

// ListItems implements Connector.
func (m *Mock) ListItems(ctx context.Context, q ListQuery) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls++
	if m.ListErr != nil {
		return Page{}, m.ListErr
	}

	idx := 0
	if q.Cursor != "" {
		i, err := strconv.Atoi(q.Cursor)
		if err != nil {
			return Page{}, err
		}
		idx = i
	}
	if idx >= len(m.Pages) {
		return Page{}, nil
	}

	page := m.Pages[idx]
	if q.Answered != nil {
		filtered := make([]Item, 0, len(page.Items))
		for _, it := range page.Items {
			if it.Answered == *q.Answered {
				filtered = append(filtered, it)
			}
		}
		page = Page{Items: filtered, NextCursor: page.NextCursor, HasMore: page.HasMore}
	}
	if page.NextCursor == "" && idx+1 < len(m.Pages) {
		page.NextCursor = strconv.Itoa(idx + 1)
		page.HasMore = true
	}
	return page, nil
}

// SendReply implements Connector.
func (m *Mock) SendReply(ctx context.Context, externalID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Replies[externalID] = text
	return nil
}
