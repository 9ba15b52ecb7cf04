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
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrAlreadyPublished is returned by Upload when the index already holds
// a file with the same name.
var ErrAlreadyPublished = errors.New("file already exists on index")

// UploadTarget is a destination for the legacy upload API.
type UploadTarget struct {
	Name     string
	URL      string
	Username string
	// Password is sent only when Username is non-empty.
	Password string
}

// Uploader publishes distribution files with the legacy upload API
// (":action=file_upload").
type Uploader struct {
	http *http.Client
}

// NewUploader creates an Uploader. The client should not retry POSTs.
func NewUploader(httpClient *http.Client) *Uploader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Uploader{http: httpClient}
}

// Upload sends the file at path to target. A 409, or a 400 whose body
// says the file exists, yields ErrAlreadyPublished.
func (u *Uploader) Upload(ctx context.Context, target UploadTarget, path string) error {
	filename := filepath.Base(path)
	info, err := ParseFilename(filename)
	if err != nil {
		return err
	}

	sha, md, err := fileDigests(path)
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, info, path, sha, md))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL(target.URL), pr)
	if err != nil {
		pr.Close()
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if target.Username != "" {
		req.SetBasicAuth(target.Username, target.Password)
	}

	resp, err := u.http.Do(req)
	if err != nil {
		pr.Close()
		return fmt.Errorf("upload %s to %s: %w", filename, target.Name, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(string(body)), "already exist"):
		return fmt.Errorf("%s: %w", filename, ErrAlreadyPublished)
	}
	return fmt.Errorf("upload %s to %s: HTTP %d: %s", filename, target.Name, resp.StatusCode, strings.TrimSpace(string(body)))
}

func writeUploadForm(mw *multipart.Writer, info FileInfo, path, sha, md string) error {
	fields := [][2]string{
		{":action", "file_upload"},
		{"protocol_version", "1"},
		{"metadata_version", "2.1"},
		{"name", info.Distribution},
		{"version", info.Version},
		{"filetype", info.Kind},
		{"pyversion", info.PyVersion},
		{"sha256_digest", sha},
		{"md5_digest", md},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}

	part, err := mw.CreateFormFile("content", info.Filename)
	if err != nil {
		return err
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return mw.Close()
}

func fileDigests(path string) (string, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer file.Close()

	sh, mh := sha256.New(), md5.New()
	if _, err := io.Copy(io.MultiWriter(sh, mh), file); err != nil {
		return "", "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(sh.Sum(nil)), hex.EncodeToString(mh.Sum(nil)), nil
}

// uploadURL accepts an index root or a "/legacy/" style endpoint.
func uploadURL(base string) string {
	if strings.HasSuffix(base, "/") {
		return base
	}
	return base + "/"
}
