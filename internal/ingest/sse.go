package ingest

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
)

// SSETransport consumes the job stream over Server-Sent Events. One GET
// request per subscription; each frame is the concatenated data lines of
// one SSE event.
type SSETransport struct {
	// BaseURL is the stream root; the job id is appended as
	// {BaseURL}/jobs/{id}/events.
	BaseURL string
	Client  *http.Client
}

func NewSSETransport(baseURL string, client *http.Client) *SSETransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &SSETransport{BaseURL: strings.TrimRight(baseURL, "/"), Client: client}
}

func (t *SSETransport) Open(ctx context.Context, jobID string) (Conn, error) {
	url := fmt.Sprintf("%s/jobs/%s/events", t.BaseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("open stream: unexpected status %s", resp.Status)
	}
	return &sseConn{resp: resp, reader: bufio.NewReader(resp.Body)}, nil
}

type sseConn struct {
	resp   *http.Response
	reader *bufio.Reader
}

// Next reads one SSE event and returns its data payload. Comment, event,
// id and retry fields are skipped; multiple data lines within one event are
// joined with newlines per the SSE framing rules.
func (c *sseConn) Next() ([]byte, error) {
	var data []string
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(data) == 0 {
				continue // heartbeat separator with no payload
			}
			return []byte(strings.Join(data, "\n")), nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(rest, " "))
		}
		// event:, id:, retry: fields carry no payload for this protocol.
	}
}

func (c *sseConn) Close() error {
	return c.resp.Body.Close()
}
