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

/*
Package safefetch is the only path for outbound HTTP issued on behalf of an
integration, whether by visual sync, OAuth token fetches or sandboxed user
code.

Every request is checked before it leaves the process:

  - the scheme must be http or https, compared case-insensitively
  - userinfo is stripped from the URL
  - the host is matched against blocked and allowed patterns
  - every resolved address must be public unless AllowPrivateIPs is set
  - cloud metadata addresses are blocked unconditionally

The dialer re-resolves and re-checks at connect time, so a hostname that
rebinds between the check and the dial is still refused. Redirects are
validated hop by hop and response bodies are capped.
*/
package safefetch
