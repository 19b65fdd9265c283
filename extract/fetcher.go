// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/poiesic/finpipe/core"
)

const (
	defaultFetchTimeout = 30 * time.Second
	maxResponseBytes    = 16 << 20 // 16 MiB
	userAgent           = "finpipe/1.0"
)

// Fetcher retrieves the raw payload of one source. Failures are reported as
// *core.FetchError so the stage runner classifies them as transient.
type Fetcher interface {
	Fetch(ctx context.Context, src core.SourceDescriptor) (string, error)
}

// HTTPFetcher fetches sources over HTTP.
type HTTPFetcher struct {
	client *http.Client
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher with the default timeout.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Timeout: defaultFetchTimeout},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, src core.SourceDescriptor) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Locator, nil)
	if err != nil {
		return "", &core.FetchError{SourceID: src.SourceID, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &core.FetchError{SourceID: src.SourceID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &core.FetchError{
			SourceID: src.SourceID,
			Err:      fmt.Errorf("unexpected status %d from %s", resp.StatusCode, src.Locator),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &core.FetchError{SourceID: src.SourceID, Err: err}
	}
	return string(body), nil
}

// StaticFetcher serves canned payloads keyed by source id. It backs
// simulation mode and tests. Sources without a payload produce a fetch
// error, which lets tests exercise the per-item failure path.
type StaticFetcher struct {
	Payloads map[string]string
}

var _ Fetcher = (*StaticFetcher)(nil)

// NewStaticFetcher creates a fetcher over a fixed payload set.
func NewStaticFetcher(payloads map[string]string) *StaticFetcher {
	return &StaticFetcher{Payloads: payloads}
}

func (f *StaticFetcher) Fetch(ctx context.Context, src core.SourceDescriptor) (string, error) {
	payload, ok := f.Payloads[src.SourceID]
	if !ok {
		return "", &core.FetchError{
			SourceID: src.SourceID,
			Err:      fmt.Errorf("no payload for source %s", src.SourceID),
		}
	}
	return payload, nil
}
