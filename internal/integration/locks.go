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

package integration

import "sync"

type recordKey struct{ tenant, integration string }

type recordLock struct {
	mu   sync.Mutex
	refs int
}

// recordLocks hands out one mutex per (tenant, integration). Entries are
// dropped once no caller holds or waits on them.
type recordLocks struct {
	mu    sync.Mutex
	locks map[recordKey]*recordLock
}

// lock blocks until the record's mutex is held and returns its release.
func (l *recordLocks) lock(tenantID, integrationID string) func() {
	k := recordKey{tenantID, integrationID}

	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[recordKey]*recordLock)
	}
	rl, ok := l.locks[k]
	if !ok {
		rl = &recordLock{}
		l.locks[k] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, k)
		}
		l.mu.Unlock()
	}
}

func (l *recordLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
