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
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	insiderslog "github.com/tombee/insiders/internal/log"
)

// LocalOnlyHeader disables upstream fallback for a single request.
const LocalOnlyHeader = "X-Insiders-Local-Only"

// DefaultMaxUploadSize bounds the size of an upload request body.
const DefaultMaxUploadSize = 512 << 20

// ServerConfig configures a Server.
type ServerConfig struct {
	Store *Store

	// Upstream answers requests for projects not published locally.
	// Nil disables fallback.
	Upstream *Upstream

	// Users maps user names to bcrypt password hashes. When empty,
	// uploads are accepted without authentication.
	Users map[string]string

	// Overwrite allows uploads to replace existing files.
	Overwrite bool

	MaxUploadSize int64

	// ShutdownTimeout bounds graceful shutdown in ListenAndServe.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// Server is the local package index.
type Server struct {
	cfg     ServerConfig
	logger  *slog.Logger
	handler http.Handler

	mu sync.RWMutex
	ln net.Listener
}

// NewServer creates a Server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = DefaultMaxUploadSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, logger: insiderslog.WithComponent(logger, "index")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /{$}", s.handleUpload)
	mux.HandleFunc("GET /simple", s.handleRoot)
	mux.HandleFunc("GET /simple/{$}", s.handleProjectList)
	mux.HandleFunc("GET /simple/{name}", s.handleProjectRedirect)
	mux.HandleFunc("GET /simple/{name}/{$}", s.handleProject)
	mux.HandleFunc("GET /pypi/{name}/json", s.handleJSON)
	mux.HandleFunc("GET /pypi/{name}/{version}/json", s.handleJSON)
	mux.HandleFunc("GET /packages/{filename}", s.handlePackage)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.handler = insiderslog.HTTPMiddleware(s.logger)(mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("index server starting",
		slog.String("listen_addr", ln.Addr().String()),
		slog.String("dist_dir", s.cfg.Store.Dir()),
		slog.Bool("fallback", s.cfg.Upstream != nil))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("index server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	srv.SetKeepAlivesEnabled(false)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("index server shutdown error", insiderslog.Error(err))
		return err
	}
	s.logger.Info("index server stopped")
	return nil
}

// Addr returns the listener address, or empty string if not started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/simple/", http.StatusMovedPermanently)
}

func (s *Server) handleProjectList(w http.ResponseWriter, r *http.Request) {
	projects, err := s.cfg.Store.Projects()
	if err != nil {
		s.internalError(w, err)
		return
	}
	names := make([]string, 0, len(projects))
	for name := range projects {
		names = append(names, name)
	}
	recordRequest("simple_index", sourceLocal)
	if err := renderProjectList(w, r, names); err != nil {
		s.logger.Debug("write project list", insiderslog.Error(err))
	}
}

func (s *Server) handleProjectRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/simple/"+NormalizeName(r.PathValue("name"))+"/", http.StatusMovedPermanently)
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if normalized := NormalizeName(name); normalized != name {
		target := "/simple/" + normalized + "/"
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
		return
	}

	files, ok, err := s.cfg.Store.Files(name)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if !ok {
		s.relay(w, r, "simple_project", "/simple/"+name+"/")
		return
	}

	recordRequest("simple_project", sourceLocal)
	if err := renderProject(w, r, name, files); err != nil {
		s.logger.Debug("write project page", insiderslog.Error(err))
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	name := NormalizeName(r.PathValue("name"))
	version := r.PathValue("version")

	files, ok, err := s.cfg.Store.Files(name)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if !ok {
		s.relay(w, r, "json", r.URL.Path)
		return
	}

	// A locally known project never lists upstream releases, including
	// for versions only upstream has.
	recordRequest("json", sourceLocal)
	doc, found := projectJSON(requestBaseURL(r), name, version, files)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("version %s of %s is not published locally", version, name))
		return
	}
	_ = writeJSON(w, http.StatusOK, "application/json", doc)
}

func (s *Server) handlePackage(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	f, err := s.cfg.Store.Lookup(filename)
	if err != nil {
		recordRequest("package", sourceNone)
		http.NotFound(w, r)
		return
	}

	file, err := os.Open(f.Path)
	if err != nil {
		s.internalError(w, err)
		return
	}
	defer file.Close()

	recordRequest("package", sourceLocal)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("ETag", `"`+f.SHA256+`"`)
	http.ServeContent(w, r, f.Filename, f.ModTime, file)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	projects, err := s.cfg.Store.Projects()
	status := map[string]any{
		"status":   "ok",
		"fallback": s.cfg.Upstream != nil,
	}
	code := http.StatusOK
	if err != nil {
		status["status"] = "degraded"
		status["error"] = err.Error()
		code = http.StatusServiceUnavailable
	} else {
		status["projects"] = len(projects)
	}
	if s.cfg.Upstream != nil {
		status["upstream"] = s.cfg.Upstream.BreakerStates()
	}
	_ = writeJSON(w, code, "application/json", status)
}

// relay answers from upstream when fallback is enabled for the request.
func (s *Server) relay(w http.ResponseWriter, r *http.Request, route, upstreamPath string) {
	if s.cfg.Upstream == nil || r.Header.Get(LocalOnlyHeader) == "1" {
		recordRequest(route, sourceNone)
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	resp, err := s.cfg.Upstream.Get(r.Context(), upstreamPath, r.Header)
	if err != nil {
		recordRequest(route, sourceNone)
		if errors.Is(err, ErrUpstreamDown) {
			w.Header().Set("Retry-After", "30")
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer resp.Body.Close()

	recordRequest(route, sourceUpstream)
	for _, key := range []string{"Content-Type", "Content-Encoding", "ETag", "Last-Modified", "Cache-Control", "Vary"} {
		if v := resp.Header.Get(key); v != "" {
			w.Header().Set(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Debug("relay interrupted", slog.String("path", upstreamPath), insiderslog.Error(err))
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		recordUpload("unauthorized")
		w.Header().Set("WWW-Authenticate", `Basic realm="insiders"`)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		recordUpload("invalid")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid upload: %v", err))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	if action := r.FormValue(":action"); action != "file_upload" {
		recordUpload("invalid")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported action %q", action))
		return
	}

	content, header, err := r.FormFile("content")
	if err != nil {
		recordUpload("invalid")
		writeError(w, http.StatusBadRequest, "missing content file")
		return
	}
	defer content.Close()

	filename := header.Filename
	if path.Base(filename) != filename {
		recordUpload("invalid")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid filename %q", filename))
		return
	}
	info, err := ParseFilename(filename)
	if err != nil {
		recordUpload("invalid")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if name := r.FormValue("name"); name != "" && NormalizeName(name) != info.Distribution {
		recordUpload("invalid")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("name %q does not match file %q", name, filename))
		return
	}
	if err := verifyDigests(content, r.FormValue("sha256_digest"), r.FormValue("md5_digest")); err != nil {
		recordUpload("invalid")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f, err := s.cfg.Store.Save(filename, content, s.cfg.Overwrite)
	if errors.Is(err, ErrFileExists) {
		recordUpload("exists")
		writeError(w, http.StatusConflict, fmt.Sprintf("File already exists: %s", filename))
		return
	}
	if err != nil {
		recordUpload("error")
		s.internalError(w, err)
		return
	}

	recordUpload("stored")
	s.logger.Info("stored upload",
		slog.String(insiderslog.DistributionKey, info.Distribution),
		slog.String("version", info.Version),
		slog.String("file", filename),
		slog.String("sha256", f.SHA256))
	_ = writeJSON(w, http.StatusOK, "application/json", map[string]string{"status": "ok", "file": filename})
}

// authorized checks basic auth against the configured bcrypt hashes.
func (s *Server) authorized(r *http.Request) bool {
	if len(s.cfg.Users) == 0 {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	hash, ok := s.cfg.Users[user]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) == nil
}

// verifyDigests checks the optional digests sent with an upload and
// rewinds content.
func verifyDigests(content multipart.File, sha256Hex, md5Hex string) error {
	if sha256Hex == "" && md5Hex == "" {
		return nil
	}
	sh, mh := sha256.New(), md5.New()
	if _, err := io.Copy(io.MultiWriter(sh, mh), content); err != nil {
		return fmt.Errorf("read content: %w", err)
	}
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind content: %w", err)
	}
	if sha256Hex != "" && !strings.EqualFold(sha256Hex, hex.EncodeToString(sh.Sum(nil))) {
		return errors.New("sha256 digest mismatch")
	}
	if md5Hex != "" && !strings.EqualFold(md5Hex, hex.EncodeToString(mh.Sum(nil))) {
		return errors.New("md5 digest mismatch")
	}
	return nil
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", insiderslog.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// requestBaseURL reconstructs the externally visible scheme and host.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
