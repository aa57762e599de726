// Package web fetches the outage schedule page and extracts table rows
// for the configured place.
package web

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/outage-watcher/internal/config"
	"github.com/outage-watcher/internal/dedup"
	"github.com/outage-watcher/internal/models"
	"github.com/outage-watcher/pkg/logger"
	"github.com/outage-watcher/pkg/ratelimit"
)

var startDateRe = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})`)

// Source scrapes the published outage schedule.
type Source struct {
	client       *http.Client
	url          string
	place        string
	userAgent    string
	onlyUpcoming bool
	limiter      *ratelimit.MultiLimiter
	log          *logger.Logger
}

// New creates a web source from configuration
func New(cfg config.SourceConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Source {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Source{
		client:       &http.Client{Timeout: timeout},
		url:          cfg.URL,
		place:        cfg.Place,
		userAgent:    cfg.UserAgent,
		onlyUpcoming: cfg.OnlyUpcoming,
		limiter:      limiter,
		log:          log.WithComponent("source"),
	}
}

// Fetch downloads the schedule page and returns the outage rows
// mentioning the configured place. A timeout or HTTP failure is
// transient: the caller skips the cycle and waits for the next one.
func (s *Source) Fetch(ctx context.Context) ([]models.Outage, error) {
	if err := s.limiter.Wait(ctx, ratelimit.LimiterSource); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en;q=0.8")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch schedule page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch schedule page: unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse schedule page: %w", err)
	}

	outages := s.extract(doc)
	if s.onlyUpcoming {
		outages = FilterUpcoming(outages, time.Now())
	}

	s.log.Info().
		Int("records", len(outages)).
		Dur("duration", time.Since(start)).
		Msg("Fetched outage schedule")

	return outages, nil
}

// extract walks every table row and keeps the ones mentioning the
// configured place.
func (s *Source) extract(doc *goquery.Document) []models.Outage {
	wantPlace := dedup.NormalizePlace(s.place)
	var outages []models.Outage

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}

		texts := make([]string, cells.Length())
		cells.Each(func(i int, cell *goquery.Selection) {
			texts[i] = strings.TrimSpace(cell.Text())
		})

		if !rowMentionsPlace(texts, wantPlace) {
			return
		}

		outages = append(outages, recordFromCells(texts))
	})

	return outages
}

func rowMentionsPlace(texts []string, wantPlace string) bool {
	for _, text := range texts {
		if strings.Contains(dedup.NormalizePlace(text), wantPlace) {
			return true
		}
	}
	return false
}

// recordFromCells maps table cells to an outage record. The published
// schedule splits start/end dates and energy notes across two adjacent
// cells each, so pairs are joined.
func recordFromCells(texts []string) models.Outage {
	return models.Outage{
		District:  cell(texts, 0),
		Place:     cell(texts, 1),
		Addresses: cell(texts, 2),
		DateFrom:  strings.TrimSpace(cell(texts, 3) + " " + cell(texts, 4)),
		DateTo:    strings.TrimSpace(cell(texts, 5) + " " + cell(texts, 6)),
		Energy:    strings.TrimSpace(cell(texts, 7) + " " + cell(texts, 8)),
	}
}

func cell(texts []string, i int) string {
	if i < len(texts) {
		return texts[i]
	}
	return ""
}

// FilterUpcoming drops records whose start date is before today. Rows
// without a parseable start date are dropped too: an outage with no
// start date cannot be acted on.
func FilterUpcoming(outages []models.Outage, now time.Time) []models.Outage {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var valid []models.Outage
	for _, o := range outages {
		m := startDateRe.FindStringSubmatch(o.DateFrom)
		if m == nil {
			continue
		}

		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())

		if !date.Before(today) {
			valid = append(valid, o)
		}
	}
	return valid
}
