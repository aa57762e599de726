// Package report renders an outage list into a human-readable markdown
// document and writes it to durable storage.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/outage-watcher/internal/models"
	"github.com/outage-watcher/pkg/logger"
)

// Writer persists rendered reports under a directory.
type Writer struct {
	dir string
	log *logger.Logger
}

// NewWriter creates a report writer rooted at dir
func NewWriter(dir string, log *logger.Logger) *Writer {
	return &Writer{
		dir: dir,
		log: log.WithComponent("report"),
	}
}

// Save renders the outages and writes them to a timestamped file,
// returning the file name. Callers treat failures as best-effort: a
// missing report never blocks notifications.
func (w *Writer) Save(place string, outages []models.Outage, checkedAt time.Time) (string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("create reports directory: %w", err)
	}

	name := fmt.Sprintf("outage-report-%s.md", checkedAt.Format("20060102-150405"))
	path := filepath.Join(w.dir, name)

	if err := os.WriteFile(path, []byte(Render(place, outages, checkedAt)), 0644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	w.log.Info().Str("file", name).Int("records", len(outages)).Msg("Saved report")
	return name, nil
}

// Latest returns the path of the newest report file, or "" when none
// exist.
func (w *Writer) Latest() string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return ""
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "outage-report-") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}

	// File names embed the timestamp, so lexical order is time order
	sort.Strings(names)
	return filepath.Join(w.dir, names[len(names)-1])
}

// Render formats the outage list as a markdown document.
func Render(place string, outages []models.Outage, checkedAt time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Отключения электроэнергии: %s\n\n", place)
	fmt.Fprintf(&b, "Проверено: %s\n\n", checkedAt.Format("02.01.2006 15:04"))

	if len(outages) == 0 {
		b.WriteString("Отключений не найдено.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Найдено записей: %d\n\n", len(outages))

	for i, o := range outages {
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, fallback(o.Place, "Место не указано"))
		fmt.Fprintf(&b, "- Район: %s\n", fallback(o.District, "-"))
		fmt.Fprintf(&b, "- Адреса: %s\n", fallback(o.Addresses, "-"))
		fmt.Fprintf(&b, "- Начало: %s\n", fallback(o.DateFrom, "-"))
		fmt.Fprintf(&b, "- Окончание: %s\n", fallback(o.DateTo, "-"))
		if o.Energy != "" {
			fmt.Fprintf(&b, "- Примечание: %s\n", o.Energy)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func fallback(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
