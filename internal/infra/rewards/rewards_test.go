package rewards

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eres45/EcoChain/internal/domain"
	"github.com/eres45/EcoChain/internal/logging"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testBook() *Book {
	b := NewBook(DefaultConfig(), logging.Nop())
	b.SetClock(func() time.Time { return testEpoch })
	return b
}

func TestDistribute_BaseReward(t *testing.T) {
	b := testBook()

	b.Distribute("req-1", "prov-1", 0.5, true)

	assert.Equal(t, 1.0, b.Balance("prov-1"))
	entries := b.Entries("prov-1", 0)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.RewardBase, entries[0].Kind)
	assert.Nil(t, entries[0].Accuracy)
}

func TestDistribute_AccuracyBonus(t *testing.T) {
	b := testBook()

	b.Distribute("req-1", "prov-1", 0.95, true)

	assert.Equal(t, 1.5, b.Balance("prov-1"))
	entries := b.Entries("prov-1", 0)
	require.Len(t, entries, 2)
	// Newest first: the bonus was appended after the base reward.
	assert.Equal(t, domain.RewardAccuracyBonus, entries[0].Kind)
	require.NotNil(t, entries[0].Accuracy)
	assert.Equal(t, 0.95, *entries[0].Accuracy)
	assert.Equal(t, domain.RewardBase, entries[1].Kind)
}

func TestDistribute_ThresholdIsExclusive(t *testing.T) {
	b := testBook()

	b.Distribute("req-1", "prov-1", 0.9, true)

	assert.Equal(t, 1.0, b.Balance("prov-1"), "accuracy must exceed the threshold")
}

func TestDistribute_NoAccuracySignal(t *testing.T) {
	b := testBook()

	// Mapping and categorical results carry no accuracy; only the base
	// reward applies regardless of the accuracy argument.
	b.Distribute("req-1", "prov-1", 1.0, false)

	assert.Equal(t, 1.0, b.Balance("prov-1"))
}

func TestEntries_LimitAndOrder(t *testing.T) {
	b := testBook()

	for i := 0; i < 5; i++ {
		b.Distribute("req-1", "prov-1", 0.5, true)
	}
	b.Distribute("req-1", "prov-2", 0.5, true)

	entries := b.Entries("prov-1", 3)
	require.Len(t, entries, 3)
	assert.Greater(t, entries[0].ID, entries[1].ID)
	assert.Greater(t, entries[1].ID, entries[2].ID)

	assert.Empty(t, b.Entries("prov-3", 0))
}

func TestRestore(t *testing.T) {
	b := testBook()

	b.Restore([]domain.RewardEntry{
		{ID: 7, ProviderID: "prov-1", Kind: domain.RewardBase, Amount: 1.0},
		{ID: 8, ProviderID: "prov-1", Kind: domain.RewardAccuracyBonus, Amount: 0.5},
		{ID: 9, ProviderID: "prov-2", Kind: domain.RewardBase, Amount: 1.0},
	})

	assert.Equal(t, 1.5, b.Balance("prov-1"))
	assert.Equal(t, 1.0, b.Balance("prov-2"))
	assert.Equal(t, 2.5, b.TotalIssued())

	// New entries continue past the restored sequence.
	b.Distribute("req-2", "prov-2", 0.5, true)
	entries := b.Entries("prov-2", 1)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(10), entries[0].ID)
}
