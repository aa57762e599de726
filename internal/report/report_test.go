package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outage-watcher/internal/models"
	"github.com/outage-watcher/pkg/logger"
)

func TestSaveAndLatest(t *testing.T) {
	w := NewWriter(t.TempDir(), logger.Default())

	outages := []models.Outage{
		{District: "Мясниковский", Place: "Ленинаван", Addresses: "ул. Мира", DateFrom: "10.01.2025 08:00", DateTo: "10.01.2025 17:00"},
	}

	first, err := w.Save("Ленинаван", outages, time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "outage-report-20250110-060000.md", first)

	second, err := w.Save("Ленинаван", outages, time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	latest := w.Latest()
	assert.Equal(t, second, filepath.Base(latest))

	content, err := os.ReadFile(latest)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Ленинаван")
	assert.Contains(t, string(content), "ул. Мира")
}

func TestLatestEmptyDir(t *testing.T) {
	w := NewWriter(t.TempDir(), logger.Default())
	assert.Empty(t, w.Latest())
}

func TestRenderEmptyList(t *testing.T) {
	out := Render("Ленинаван", nil, time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC))

	assert.Contains(t, out, "Отключений не найдено")
	assert.Contains(t, out, "10.01.2025 06:00")
}

func TestRenderFallbacks(t *testing.T) {
	out := Render("Ленинаван", []models.Outage{{DateFrom: "10.01.2025"}}, time.Now())

	assert.Contains(t, out, "Место не указано")
	assert.Contains(t, out, "Начало: 10.01.2025")
}
