package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outage-watcher/internal/models"
)

func TestNormalizePlace(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases and trims", "  Ленинаван  ", "ленинаван"},
		{"folds yo", "Алёшкино", "алешкино"},
		{"collapses whitespace", "с.  Большие   Салы", "с_большие_салы"},
		{"strips punctuation", "х. Веселый (центр)", "х_веселый_центр"},
		{"empty becomes unknown", "   ", "unknown"},
		{"keeps digits", "Линия 2", "линия_2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePlace(tt.input))
		})
	}
}

func TestContentKeyDateFormats(t *testing.T) {
	base := models.Outage{Place: "Ленинаван"}

	dotted := base
	dotted.DateFrom = "10.01.2025 08:00"

	iso := base
	iso.DateFrom = "2025-01-10"

	slashed := base
	slashed.DateFrom = "10/1/2025"

	key := ContentKey(dotted)
	assert.Equal(t, "2025-01-10_ленинаван", key)
	assert.Equal(t, key, ContentKey(iso))
	assert.Equal(t, key, ContentKey(slashed))
}

func TestContentKeyFallbackWithoutDate(t *testing.T) {
	a := models.Outage{Place: "Ленинаван", DateFrom: "-", Addresses: "ул. Мира 1"}
	b := models.Outage{Place: "Ленинаван", DateFrom: "-", Addresses: "ул. Мира 2"}

	assert.Contains(t, ContentKey(a), "no_date_")
	assert.NotEqual(t, ContentKey(a), ContentKey(b), "records без даты различаются полным содержимым")
}

func TestDeduplicate(t *testing.T) {
	outages := []models.Outage{
		{Place: "Ленинаван", DateFrom: "10.01.2025 08:00", Addresses: "ул. Мира"},
		{Place: "ленинаван ", DateFrom: "10.01.2025", Addresses: "ул. Мира, уточнено"},
		{Place: "Ленинаван", DateFrom: "11.01.2025", Addresses: "ул. Мира"},
	}

	unique, removed := Deduplicate(outages)

	require.Len(t, unique, 2)
	assert.Equal(t, 1, removed)
	// first-seen record wins
	assert.Equal(t, "ул. Мира", unique[0].Addresses)
	assert.Equal(t, "11.01.2025", unique[1].DateFrom)
}

func TestDeduplicateProperties(t *testing.T) {
	outages := []models.Outage{
		{Place: "А", DateFrom: "01.02.2025"},
		{Place: "Б", DateFrom: "01.02.2025"},
		{Place: "А", DateFrom: "02.02.2025"},
		{Place: "А", DateFrom: "01.02.2025", Energy: "другое"},
	}

	unique, removed := Deduplicate(outages)

	assert.Len(t, unique, len(outages)-removed)
	assert.LessOrEqual(t, len(unique), len(outages))

	keys := make(map[string]struct{})
	for _, o := range unique {
		key := ContentKey(o)
		_, dup := keys[key]
		assert.False(t, dup, "surviving keys must be pairwise distinct")
		keys[key] = struct{}{}
	}
}

func TestDeduplicateEmpty(t *testing.T) {
	unique, removed := Deduplicate(nil)
	assert.Empty(t, unique)
	assert.Zero(t, removed)
}
