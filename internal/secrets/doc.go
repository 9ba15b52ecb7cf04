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

// Package secrets resolves credentials for destination indexes and git
// remotes from the system keychain and the environment.
//
// Keys are slash-separated paths:
//
//	index/<name>/password   upload password for a destination index
//	git/token               token for HTTPS git remotes
//
// The keychain is consulted first, then environment variables
// (INSIDERS_INDEX_<NAME>_PASSWORD, INSIDERS_GIT_TOKEN). Values from the
// config file are the caller's final fallback.
package secrets
