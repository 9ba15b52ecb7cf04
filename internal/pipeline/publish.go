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

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/tombee/insiders/internal/config"
	"github.com/tombee/insiders/internal/index"
	insiderslog "github.com/tombee/insiders/internal/log"
	"github.com/tombee/insiders/internal/secrets"
	insiderserrors "github.com/tombee/insiders/pkg/errors"
)

// defaultUsername is sent when an index requires auth but no username
// is configured. API tokens on PyPI-compatible indexes use it.
const defaultUsername = "__token__"

// publish uploads every artifact to every target. A failing index does
// not stop the others and accepted uploads are not rolled back.
func (p *Pipeline) publish(ctx context.Context, logger *slog.Logger, job *Job) (map[string]bool, error) {
	published := make(map[string]bool, len(p.cfg.Targets))
	failures := make(map[string]error)

	for _, target := range p.cfg.Targets {
		tlogger := logger.With(slog.String(insiderslog.IndexKey, target.Name))

		upload, err := p.uploadTarget(ctx, target)
		if err != nil {
			failures[target.Name] = err
			published[target.Name] = false
			continue
		}

		ok := true
		for _, path := range job.ArtifactPaths {
			file := filepath.Base(path)
			err := p.uploader.Upload(ctx, upload, path)
			switch {
			case err == nil:
				tlogger.Info("uploaded artifact", slog.String("file", file))
			case errors.Is(err, index.ErrAlreadyPublished) && target.ShouldSkipExisting():
				tlogger.Info("artifact already on index, skipping", slog.String("file", file))
			default:
				tlogger.Error("upload failed", slog.String("file", file), insiderslog.Error(err))
				failures[target.Name] = err
				ok = false
			}
			if !ok {
				break
			}
		}
		published[target.Name] = ok
	}

	if len(failures) > 0 {
		return published, &insiderserrors.PublishFailedError{
			Repository: job.Repository.ID(),
			Tag:        job.Tag,
			Failures:   failures,
		}
	}
	return published, nil
}

// uploadTarget resolves credentials for target. The password comes from
// the secret resolver (keychain, then environment), then the config.
func (p *Pipeline) uploadTarget(ctx context.Context, target config.IndexTarget) (index.UploadTarget, error) {
	upload := index.UploadTarget{Name: target.Name, URL: target.URL}
	if !target.Auth {
		return upload, nil
	}

	password := target.Password
	if p.secrets != nil {
		var err error
		password, err = p.secrets.Lookup(ctx, secrets.IndexPasswordKey(target.Name), target.Password)
		if err != nil {
			return upload, err
		}
	}

	upload.Username = target.Username
	if upload.Username == "" {
		upload.Username = defaultUsername
	}
	upload.Password = password
	return upload, nil
}
