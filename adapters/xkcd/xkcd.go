package xkcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"comicfacade/core"
)

type Client struct {
	log     *slog.Logger
	baseURL string
	backoff time.Duration
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("empty base url")
	}
	return &Client{
		log:     log,
		baseURL: baseURL,
		backoff: 500 * time.Millisecond,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type comicResp struct {
	Num        int    `json:"num"`
	Title      string `json:"title"`
	SafeTitle  string `json:"safe_title"`
	Img        string `json:"img"`
	Alt        string `json:"alt"`
	Transcript string `json:"transcript"`
	Year       int    `json:"year"`
	Month      int    `json:"month"`
	Day        int    `json:"day"`
}

const fetchAttempts = 3

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = &core.UpstreamError{Err: err}
		} else {
			var retryable bool
			func() {
				defer func() {
					if cerr := resp.Body.Close(); cerr != nil {
						c.log.Warn("close response body failed", "error", cerr)
					}
				}()
				if resp.StatusCode == http.StatusNotFound {
					lastErr = core.ErrNotFound
					return
				}
				if resp.StatusCode != http.StatusOK {
					lastErr = &core.UpstreamError{
						StatusCode: resp.StatusCode,
						Status:     resp.Status,
					}
					// Client errors will not heal on retry.
					retryable = resp.StatusCode >= 500
					return
				}
				if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
					lastErr = &core.UpstreamError{Err: err}
					retryable = true
					return
				}
				lastErr = nil
			}()
			if lastErr == nil {
				return nil
			}
			if errors.Is(lastErr, core.ErrNotFound) || !retryable {
				return lastErr
			}
		}
		// No point sleeping out the backoff once the budget is spent.
		if attempt == fetchAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * c.backoff):
		}
	}
	return lastErr
}

func toComic(cr comicResp) (core.Comic, error) {
	// A 200 with a body that decodes to a non-positive num is as broken as
	// an undecodable one.
	if cr.Num < 1 {
		return core.Comic{}, &core.UpstreamError{
			Err: fmt.Errorf("invalid comic id %d in response", cr.Num),
		}
	}
	return core.Comic{
		ID:         cr.Num,
		Title:      cr.Title,
		SafeTitle:  cr.SafeTitle,
		AltText:    cr.Alt,
		Transcript: cr.Transcript,
		ImageURL:   cr.Img,
		Year:       cr.Year,
		Month:      cr.Month,
		Day:        cr.Day,
	}, nil
}

func (c *Client) Latest(ctx context.Context) (core.Comic, error) {
	var cr comicResp
	if err := c.getJSON(ctx, fmt.Sprintf("%s/info.0.json", c.baseURL), &cr); err != nil {
		return core.Comic{}, err
	}
	return toComic(cr)
}

func (c *Client) Get(ctx context.Context, id int) (core.Comic, error) {
	var cr comicResp
	if err := c.getJSON(ctx, fmt.Sprintf("%s/%d/info.0.json", c.baseURL, id), &cr); err != nil {
		return core.Comic{}, err
	}
	return toComic(cr)
}
