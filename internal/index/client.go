// Copyright 2025 Tom Barlow
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

package index

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"

	insiderserrors "github.com/tombee/insiders/pkg/errors"
)

// maxListingSize bounds the project page read by Versions.
const maxListingSize = 32 << 20

var anchorText = regexp.MustCompile(`(?is)<a\s[^>]*>([^<]+)</a>`)

// Client reads version listings from a simple repository API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the index rooted at baseURL, e.g.
// http://localhost:31411. A trailing /simple is accepted.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	base := strings.TrimRight(baseURL, "/")
	base = strings.TrimSuffix(base, "/simple")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: base, http: httpClient}
}

// BaseURL returns the index root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Versions lists the versions of distribution published on the index.
// Fallback to an upstream index is disabled for the request, so only
// locally published versions are returned. An unknown project yields an
// empty list; any other failure is an IndexUnavailableError.
func (c *Client) Versions(ctx context.Context, distribution string) ([]string, error) {
	name := NormalizeName(distribution)
	url := c.baseURL + "/simple/" + name + "/"
	unavailable := func(status int, cause error) error {
		return &insiderserrors.IndexUnavailableError{URL: c.baseURL, Distribution: name, StatusCode: status, Cause: cause}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, unavailable(0, err)
	}
	req.Header.Set("Accept", ContentTypeSimpleJSON+", text/html;q=0.1")
	req.Header.Set(LocalOnlyHeader, "1")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, unavailable(0, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return []string{}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, unavailable(resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingSize))
	if err != nil {
		return nil, unavailable(resp.StatusCode, err)
	}

	var filenames []string
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var page simpleProject
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, unavailable(resp.StatusCode, fmt.Errorf("decode project page: %w", err))
		}
		if len(page.Versions) > 0 {
			return page.Versions, nil
		}
		for _, f := range page.Files {
			filenames = append(filenames, f.Filename)
		}
	} else {
		for _, m := range anchorText.FindAllStringSubmatch(string(body), -1) {
			filenames = append(filenames, strings.TrimSpace(html.UnescapeString(m[1])))
		}
	}

	seen := make(map[string]struct{})
	versions := []string{}
	for _, filename := range filenames {
		info, err := ParseFilename(filename)
		if err != nil || info.Distribution != name {
			continue
		}
		v := info.CanonicalVersion()
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		versions = append(versions, v)
	}
	return versions, nil
}
