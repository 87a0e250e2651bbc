package analytics

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/aimerfeng/BioLink/internal/monitoring"
	"github.com/aimerfeng/BioLink/internal/tier"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// ExportFormat is an output encoding for analytics exports
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
	FormatXLSX ExportFormat = "xlsx"
)

// MaxExportDays bounds a single export
const MaxExportDays = 3660

// Export errors
var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrInvalidRange      = errors.New("from must not be after to")
	ErrRangeTooLarge     = errors.New("export range is too large")
)

// ParseExportFormat validates a format name; empty means csv
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// ExportFile is a rendered export ready to be sent as an attachment
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportData is the full-resolution content of an export
type ExportData struct {
	From      string                  `json:"from"`
	To        string                  `json:"to"`
	Daily     []DailyPoint            `json:"daily"`
	Links     []models.LinkClickCount `json:"links"`
	Referrers []models.ReferrerCount  `json:"referrers"`
}

var dailyHeader = []string{"date", "profile_views", "link_clicks", "new_followers", "unique_visitors"}

// Export renders every daily bucket in [from, to] plus link and referrer
// totals. It is a privileged action: tiers without realtime analytics get a
// TierRequiredError rather than a degraded result.
func (s *Service) Export(ctx context.Context, userID uuid.UUID, t tier.Tier, from, to time.Time, format ExportFormat) (*ExportFile, error) {
	if err := s.gate.RequireRealtime(t, "Analytics export"); err != nil {
		monitoring.RecordAnalyticsExport(string(format), "tier_required")
		return nil, err
	}

	data, err := s.exportData(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	var file *ExportFile
	switch format {
	case FormatCSV:
		file, err = renderCSV(data)
	case FormatJSON:
		file, err = renderJSON(data)
	case FormatXLSX:
		file, err = renderXLSX(data)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		monitoring.RecordAnalyticsExport(string(format), "error")
		return nil, err
	}

	monitoring.RecordAnalyticsExport(string(format), "ok")
	return file, nil
}

func (s *Service) exportData(ctx context.Context, userID uuid.UUID, from, to time.Time) (*ExportData, error) {
	from, to = startOfDay(from), startOfDay(to)
	if today := s.gate.Today(); to.After(today) {
		to = today
	}
	if from.After(to) {
		return nil, ErrInvalidRange
	}
	if int(to.Sub(from).Hours()/24)+1 > MaxExportDays {
		return nil, ErrRangeTooLarge
	}

	buckets, err := s.store.DailyBuckets(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]models.DailyAnalytics, len(buckets))
	for _, b := range buckets {
		byDay[b.DayKey()] = b
	}

	data := &ExportData{From: DayKey(from), To: DayKey(to), Daily: make([]DailyPoint, 0)}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := DayKey(d)
		b := byDay[key]
		data.Daily = append(data.Daily, DailyPoint{
			Date:           key,
			ProfileViews:   b.ProfileViews,
			LinkClicks:     b.LinkClicks,
			NewFollowers:   b.NewFollowers,
			UniqueVisitors: b.UniqueVisitors,
		})
	}

	if data.Links, err = s.store.LinkClicks(ctx, userID, from, to); err != nil {
		return nil, err
	}
	if data.Referrers, err = s.store.Referrers(ctx, userID, from, to); err != nil {
		return nil, err
	}
	return data, nil
}

func exportFilename(data *ExportData, ext string) string {
	return fmt.Sprintf("biolink-analytics-%s-to-%s.%s", data.From, data.To, ext)
}

func dailyRow(p DailyPoint) []string {
	return []string{
		p.Date,
		strconv.FormatInt(p.ProfileViews, 10),
		strconv.FormatInt(p.LinkClicks, 10),
		strconv.FormatInt(p.NewFollowers, 10),
		strconv.FormatInt(p.UniqueVisitors, 10),
	}
}

// renderCSV writes the daily rows only; per-link and referrer totals have a
// different shape and are available in the json and xlsx formats.
func renderCSV(data *ExportData) (*ExportFile, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(dailyHeader); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, p := range data.Daily {
		if err := w.Write(dailyRow(p)); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}

	return &ExportFile{
		Filename:    exportFilename(data, "csv"),
		ContentType: "text/csv; charset=utf-8",
		Data:        buf.Bytes(),
	}, nil
}

func renderJSON(data *ExportData) (*ExportFile, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode json export: %w", err)
	}
	return &ExportFile{
		Filename:    exportFilename(data, "json"),
		ContentType: "application/json",
		Data:        b,
	}, nil
}

const (
	sheetDaily     = "Daily"
	sheetLinks     = "Links"
	sheetReferrers = "Referrers"
)

func renderXLSX(data *ExportData) (*ExportFile, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetDaily); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	for _, name := range []string{sheetLinks, sheetReferrers} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	daily := [][]any{{"Date", "Profile views", "Link clicks", "New followers", "Unique visitors"}}
	for _, p := range data.Daily {
		daily = append(daily, []any{p.Date, p.ProfileViews, p.LinkClicks, p.NewFollowers, p.UniqueVisitors})
	}
	links := [][]any{{"Link", "URL", "Clicks"}}
	for _, l := range data.Links {
		links = append(links, []any{l.Title, l.URL, l.Clicks})
	}
	referrers := [][]any{{"Source", "Visits"}}
	for _, r := range data.Referrers {
		referrers = append(referrers, []any{r.Source, r.Visits})
	}

	for sheet, rows := range map[string][][]any{sheetDaily: daily, sheetLinks: links, sheetReferrers: referrers} {
		if err := writeSheet(f, sheet, rows, bold); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render xlsx: %w", err)
	}

	return &ExportFile{
		Filename:    exportFilename(data, "xlsx"),
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Data:        buf.Bytes(),
	}, nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]any, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}
	return nil
}
