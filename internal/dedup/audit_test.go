package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func auditProblems(t *testing.T, te *testEngine) []Problem {
	t.Helper()
	problems, err := te.audit.Verify()
	require.NoError(t, err)
	return problems
}

func TestAuditCleanStateHasNoProblems(t *testing.T) {
	te := newTestEngine(t)
	te.addCard(t, 1, 1, 2, 3)
	te.addCard(t, 2, 2, 3, 5, 6)
	require.Empty(t, auditProblems(t, te))
}

func TestAuditDetectsSeededCorruption(t *testing.T) {
	tests := []struct {
		name     string
		corrupt  func(t *testing.T, te *testEngine)
		property string
	}{
		{
			name: "weak member",
			corrupt: func(t *testing.T, te *testEngine) {
				tx := te.store.Begin()
				require.NoError(t, tx.HSetAll("SB:1", map[string]string{
					"bs": "1", "c1": "1", "c2": "2", "c3": "2",
				}))
				require.NoError(t, tx.Commit())
			},
			property: "P1",
		},
		{
			name: "key is not the minimum member",
			corrupt: func(t *testing.T, te *testEngine) {
				tx := te.store.Begin()
				require.NoError(t, tx.HSetAll("SB:9", map[string]string{"bs": "9", "c3": "1"}))
				require.NoError(t, tx.HSetAll("C:3", map[string]string{"l": "3", "sb": "9"}))
				require.NoError(t, tx.Commit())
			},
			property: "P2",
		},
		{
			name: "dangling back reference",
			corrupt: func(t *testing.T, te *testEngine) {
				tx := te.store.Begin()
				require.NoError(t, tx.HSetAll("C:5", map[string]string{"l": "4", "sb": "77"}))
				require.NoError(t, tx.Commit())
			},
			property: "P4",
		},
		{
			name: "persisted singleton set",
			corrupt: func(t *testing.T, te *testEngine) {
				tx := te.store.Begin()
				require.NoError(t, tx.SSetAll("BS:4", []string{"4"}))
				require.NoError(t, tx.HSetAll("SB:4", map[string]string{"bs": "4", "c4": "1"}))
				require.NoError(t, tx.HSetAll("C:4", map[string]string{"l": "2", "sb": "4"}))
				require.NoError(t, tx.Commit())
			},
			property: "P5",
		},
		{
			name: "torn shard",
			corrupt: func(t *testing.T, te *testEngine) {
				tx := te.store.Begin()
				require.NoError(t, tx.Append("S:00000", make([]byte, 5)))
				require.NoError(t, tx.Commit())
			},
			property: "P6",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEngine(t)
			tt.corrupt(t, te)
			problems := auditProblems(t, te)
			require.NotEmpty(t, problems, "corruption must be detected")
			found := false
			for _, p := range problems {
				if p.Property == tt.property {
					found = true
				}
			}
			require.True(t, found, "expected a %s violation, got %v", tt.property, problems)
		})
	}
}

func TestAuditStatsOnEmptyStore(t *testing.T) {
	te := newTestEngine(t)
	stats, err := te.audit.Stats()
	require.NoError(t, err)
	require.Equal(t, Stats{}, stats)
}
