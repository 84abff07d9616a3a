package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPConfig configures an HTTPConnector endpoint.
type HTTPConfig struct {
	// BaseURL of the marketplace seller API, e.g. "https://api.example.com".
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Channel selects the resource path under BaseURL.
	Channel Channel `yaml:"channel" json:"channel"`
	// UserAgent sent with requests.
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	// Timeout per request. Default: 20s.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// MaxBytes caps response body size. Default: 4MB.
	MaxBytes int64 `yaml:"max_bytes" json:"max_bytes"`
}

func (c *HTTPConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 4 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "sellersync/1.0"
	}
}

// sellerHTTPConfig is the per-seller JSON carried in the registry Open call.
type sellerHTTPConfig struct {
	Token  string `json:"token"`
	ShopID string `json:"shop_id"`
}

// HTTPConnector talks to a JSON seller API:
//
//	GET  {base}/api/{channel}?cursor=&take=&answered=&since=
//	  -> {"items":[...], "next_cursor":"...", "has_more":true}
//	POST {base}/api/{channel}/{external_id}/reply  {"text":"..."}
//	  -> 2xx on success
//
// Non-2xx statuses map onto the package error taxonomy.
type HTTPConnector struct {
	cfg      HTTPConfig
	client   *http.Client
	token    string
	shopID   string
	sellerID string
}

// HTTPFactory returns a registry Factory producing HTTPConnectors for cfg.
// The per-seller JSON config supplies the API token and shop ID.
func HTTPFactory(cfg HTTPConfig) Factory {
	cfg.defaults()
	return func(sellerID string, raw json.RawMessage) (Connector, error) {
		var sc sellerHTTPConfig
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &sc); err != nil {
				return nil, fmt.Errorf("connector: parse seller config: %w", err)
			}
		}
		if sc.Token == "" {
			return nil, fmt.Errorf("connector: seller %s has no API token for %s", sellerID, cfg.Channel)
		}
		return &HTTPConnector{
			cfg:      cfg,
			client:   &http.Client{Timeout: cfg.Timeout},
			token:    sc.Token,
			shopID:   sc.ShopID,
			sellerID: sellerID,
		}, nil
	}
}

// ListItems implements Connector.
func (h *HTTPConnector) ListItems(ctx context.Context, q ListQuery) (Page, error) {
	u, err := url.Parse(strings.TrimRight(h.cfg.BaseURL, "/") + "/api/" + string(h.cfg.Channel))
	if err != nil {
		return Page{}, fmt.Errorf("connector: base url: %w", err)
	}
	qs := u.Query()
	if q.Cursor != "" {
		qs.Set("cursor", q.Cursor)
	}
	if q.Skip > 0 {
		qs.Set("skip", strconv.Itoa(q.Skip))
	}
	if q.Take > 0 {
		qs.Set("take", strconv.Itoa(q.Take))
	}
	if q.Answered != nil {
		qs.Set("answered", strconv.FormatBool(*q.Answered))
	}
	if !q.Since.IsZero() {
		qs.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if h.shopID != "" {
		qs.Set("shop_id", h.shopID)
	}
	u.RawQuery = qs.Encode()

	body, status, err := h.do(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, err
	}
	if status < 200 || status >= 300 {
		return Page{}, statusErr("list", status)
	}

	var resp struct {
		Items      []wireItem `json:"items"`
		NextCursor string     `json:"next_cursor"`
		HasMore    bool       `json:"has_more"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Page{}, fmt.Errorf("connector: decode list response: %w", err)
	}

	page := Page{NextCursor: resp.NextCursor, HasMore: resp.HasMore}
	for _, wi := range resp.Items {
		page.Items = append(page.Items, wi.item())
	}
	return page, nil
}

// SendReply implements Connector.
func (h *HTTPConnector) SendReply(ctx context.Context, externalID, text string) error {
	u := strings.TrimRight(h.cfg.BaseURL, "/") + "/api/" + string(h.cfg.Channel) + "/" + url.PathEscape(externalID) + "/reply"

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("connector: marshal reply: %w", err)
	}

	_, status, err := h.do(ctx, http.MethodPost, u, payload)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return statusErr("send_reply", status)
	}
	return nil
}

func (h *HTTPConnector) do(ctx context.Context, method, rawurl string, body []byte) ([]byte, int, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawurl, rdr)
	if err != nil {
		return nil, 0, fmt.Errorf("connector: new request: %w", err)
	}
	req.Header.Set("User-Agent", h.cfg.UserAgent)
	req.Header.Set("Authorization", "Bearer "+h.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("connector: %s %s: %w", method, rawurl, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("connector: read body: %w", err)
	}
	return data, resp.StatusCode, nil
}

// wireItem tolerates the field spellings seller APIs actually emit.
type wireItem struct {
	ExternalID     string            `json:"external_id"`
	ID             string            `json:"id"` // fallback spelling
	OccurredAt     time.Time         `json:"occurred_at"`
	CreatedAt      time.Time         `json:"created_at"` // fallback spelling
	Text           string            `json:"text"`
	Subject        string            `json:"subject"`
	Rating         int               `json:"rating"`
	OrderID        string            `json:"order_id"`
	CustomerID     string            `json:"customer_id"`
	CustomerName   string            `json:"customer_name"`
	ProductID      string            `json:"product_id"`
	ProductArticle string            `json:"product_article"`
	Answered       bool              `json:"answered"`
	Extra          map[string]string `json:"extra"`
}

func (w wireItem) item() Item {
	it := Item{
		ExternalID:     w.ExternalID,
		OccurredAt:     w.OccurredAt,
		Text:           w.Text,
		Subject:        w.Subject,
		Rating:         w.Rating,
		OrderID:        w.OrderID,
		CustomerID:     w.CustomerID,
		CustomerName:   w.CustomerName,
		ProductID:      w.ProductID,
		ProductArticle: w.ProductArticle,
		Answered:       w.Answered,
		Extra:          w.Extra,
	}
	if it.ExternalID == "" {
		it.ExternalID = w.ID
	}
	if it.OccurredAt.IsZero() {
		it.OccurredAt = w.CreatedAt
	}
	return it
}
