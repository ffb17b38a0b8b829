package merch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		rarity string
		items  []string
	}{
		{RarityUncommon, []string{ItemTShirt}},
		{RarityElite, []string{ItemTShirt, ItemHat}},
		{RarityEpic, []string{ItemTShirt, ItemBackpack}},
		{RarityLegend, []string{ItemTShirt, ItemHat, ItemBackpack}},
		{"Mythic", []string{}},
		{"", []string{}},
		{"uncommon", []string{}}, // case sensitive
	}

	for _, tt := range tests {
		t.Run(tt.rarity, func(t *testing.T) {
			assert.Equal(t, tt.items, Resolve(tt.rarity))
		})
	}
}

func TestResolveDeterministic(t *testing.T) {
	for i := 0; i < 10; i++ {
		assert.Equal(t, []string{ItemTShirt, ItemHat}, Resolve(RarityElite))
	}
}

func TestIsKnownRarity(t *testing.T) {
	assert.True(t, IsKnownRarity(RarityUncommon))
	assert.True(t, IsKnownRarity(RarityElite))
	assert.True(t, IsKnownRarity(RarityEpic))
	assert.True(t, IsKnownRarity(RarityLegend))
	assert.False(t, IsKnownRarity("Mythic"))
	assert.False(t, IsKnownRarity(""))
}
