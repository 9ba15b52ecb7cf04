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
	"encoding/json"
	"html/template"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Content types of the simple repository API.
const (
	ContentTypeSimpleJSON = "application/vnd.pypi.simple.v1+json"
	ContentTypeSimpleHTML = "application/vnd.pypi.simple.v1+html"
	simpleAPIVersion      = "1.1"
)

// wantsJSON reports whether the client negotiated the PEP 691 JSON form.
func wantsJSON(r *http.Request) bool {
	if f := r.URL.Query().Get("format"); f != "" {
		return f == ContentTypeSimpleJSON
	}
	return strings.Contains(r.Header.Get("Accept"), ContentTypeSimpleJSON)
}

var projectListTemplate = template.Must(template.New("projects").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta name="pypi:repository-version" content="1.1">
    <title>Simple index</title>
  </head>
  <body>
{{- range .}}
    <a href="/simple/{{.}}/">{{.}}</a><br>
{{- end}}
  </body>
</html>
`))

var projectPageTemplate = template.Must(template.New("project").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta name="pypi:repository-version" content="1.1">
    <title>Links for {{.Name}}</title>
  </head>
  <body>
    <h1>Links for {{.Name}}</h1>
{{- range .Files}}
    <a href="/packages/{{.Filename}}#sha256={{.SHA256}}">{{.Filename}}</a><br>
{{- end}}
  </body>
</html>
`))

type simpleMeta struct {
	APIVersion string `json:"api-version"`
}

type simpleProjectList struct {
	Meta     simpleMeta          `json:"meta"`
	Projects []simpleProjectName `json:"projects"`
}

type simpleProjectName struct {
	Name string `json:"name"`
}

type simpleProject struct {
	Meta     simpleMeta   `json:"meta"`
	Name     string       `json:"name"`
	Versions []string     `json:"versions"`
	Files    []simpleFile `json:"files"`
}

type simpleFile struct {
	Filename   string            `json:"filename"`
	URL        string            `json:"url"`
	Hashes     map[string]string `json:"hashes"`
	Size       int64             `json:"size"`
	UploadTime string            `json:"upload-time"`
}

func renderProjectList(w http.ResponseWriter, r *http.Request, names []string) error {
	sort.Strings(names)
	if wantsJSON(r) {
		list := simpleProjectList{Meta: simpleMeta{APIVersion: simpleAPIVersion}, Projects: []simpleProjectName{}}
		for _, name := range names {
			list.Projects = append(list.Projects, simpleProjectName{Name: name})
		}
		return writeJSON(w, http.StatusOK, ContentTypeSimpleJSON, list)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return projectListTemplate.Execute(w, names)
}

func renderProject(w http.ResponseWriter, r *http.Request, name string, files []File) error {
	if wantsJSON(r) {
		page := simpleProject{
			Meta:     simpleMeta{APIVersion: simpleAPIVersion},
			Name:     name,
			Versions: Versions(files),
			Files:    make([]simpleFile, 0, len(files)),
		}
		for _, f := range files {
			page.Files = append(page.Files, simpleFile{
				Filename:   f.Filename,
				URL:        "/packages/" + f.Filename,
				Hashes:     map[string]string{"sha256": f.SHA256},
				Size:       f.Size,
				UploadTime: f.ModTime.UTC().Format(time.RFC3339),
			})
		}
		return writeJSON(w, http.StatusOK, ContentTypeSimpleJSON, page)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return projectPageTemplate.Execute(w, struct {
		Name  string
		Files []File
	}{name, files})
}

// JSON API shapes, limited to the fields installers and the oracle use.
type jsonProject struct {
	Info       jsonInfo              `json:"info"`
	Releases   map[string][]jsonFile `json:"releases,omitempty"`
	URLs       []jsonFile            `json:"urls"`
	LastSerial int                   `json:"last_serial"`
}

type jsonInfo struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	PackageURL string `json:"package_url"`
}

type jsonFile struct {
	Filename      string            `json:"filename"`
	URL           string            `json:"url"`
	Digests       map[string]string `json:"digests"`
	PackageType   string            `json:"packagetype"`
	PythonVersion string            `json:"python_version"`
	Size          int64             `json:"size"`
	UploadTime    string            `json:"upload_time_iso_8601"`
	Yanked        bool              `json:"yanked"`
}

// projectJSON builds the JSON API document for name. When version is
// empty the latest local version is described and all releases listed.
func projectJSON(baseURL, name, version string, files []File) (jsonProject, bool) {
	releases := make(map[string][]jsonFile)
	for _, f := range files {
		v := f.CanonicalVersion()
		releases[v] = append(releases[v], jsonFile{
			Filename:      f.Filename,
			URL:           baseURL + "/packages/" + f.Filename,
			Digests:       map[string]string{"sha256": f.SHA256},
			PackageType:   f.Kind,
			PythonVersion: f.PyVersion,
			Size:          f.Size,
			UploadTime:    f.ModTime.UTC().Format(time.RFC3339),
		})
	}

	doc := jsonProject{Info: jsonInfo{Name: name, PackageURL: baseURL + "/simple/" + name + "/"}}
	if version == "" {
		doc.Info.Version = Latest(Versions(files))
		doc.Releases = releases
	} else {
		found := false
		for v := range releases {
			if compareVersionStrings(v, version) == 0 {
				doc.Info.Version = v
				found = true
				break
			}
		}
		if !found {
			return doc, false
		}
	}
	doc.URLs = releases[doc.Info.Version]
	if doc.URLs == nil {
		doc.URLs = []jsonFile{}
	}
	return doc, true
}

func writeJSON(w http.ResponseWriter, status int, contentType string, v any) error {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	_ = writeJSON(w, status, "application/json", map[string]string{"error": message})
}
