// Copyright 2025 Google LLC
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

package process

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitNameTakesFirstToken(t *testing.T) {
	p := New("worker 7 bootstrap", 0)
	require.Equal(t, "worker", p.ExitName())
}

func TestExitNameFallsBackToWholeName(t *testing.T) {
	p := New("", 0)
	require.Equal(t, "", p.ExitName())
}

func TestMapIDLifecycle(t *testing.T) {
	p := New("proc", 0)

	id0 := p.NextMapID()
	id1 := p.NextMapID()
	require.Equal(t, 0, id0)
	require.Equal(t, 1, id1)
	require.True(t, p.HasMapID(id0))
	require.True(t, p.HasMapID(id1))

	p.ReleaseMapID(id1)
	require.False(t, p.HasMapID(id1))

	// Releasing the most recently allocated id rolls the counter back so
	// it's reused rather than burning ids forever.
	id2 := p.NextMapID()
	require.Equal(t, 1, id2)
}

func TestReleaseMapIDNotMostRecentDoesNotRollBack(t *testing.T) {
	p := New("proc", 0)
	id0 := p.NextMapID()
	id1 := p.NextMapID()

	p.ReleaseMapID(id0)
	require.False(t, p.HasMapID(id0))

	id2 := p.NextMapID()
	require.Equal(t, 2, id2)
	require.True(t, p.HasMapID(id1))
}

func TestCloseOnFreshProcessDoesNotPanic(t *testing.T) {
	p := New("proc", 0)
	require.NotPanics(t, func() {
		p.Close()
	})
}
