package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteJudge delegates verdicts to an external judge service that already
// talks to a vision model on the caller's behalf.
type RemoteJudge struct {
	url    string
	client *http.Client
}

// NewRemoteJudge builds a judge client for the service at url.
func NewRemoteJudge(url string, timeout time.Duration) *RemoteJudge {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RemoteJudge{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type remoteTestCase struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type remoteRequest struct {
	Screenshot string         `json:"screenshot"`
	TestCase   remoteTestCase `json:"testCase"`
	HTMLCode   string         `json:"htmlCode"`
}

func (j *RemoteJudge) Judge(ctx context.Context, req Request) (*Verdict, error) {
	payload, err := json.Marshal(remoteRequest{
		Screenshot: req.Screenshot,
		TestCase:   remoteTestCase{Name: req.TestName, Description: req.Description},
		HTMLCode:   req.HTMLCode,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding judge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building judge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling judge service: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading judge response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("judge service returned %s", resp.Status)
	}

	var v Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding judge response: %w", err)
	}
	if err := normalize(&v); err != nil {
		return nil, err
	}
	return &v, nil
}
