package analytics

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aimerfeng/BioLink/internal/tier"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func seedExport(t *testing.T, store *MemoryStore, userID uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	linkID := uuid.New()
	store.PutLink(userID, linkID, "Newsletter", "https://news.example.com")
	require.NoError(t, store.IncrementDaily(ctx, userID, day(2025, 3, 10), Delta{ProfileViews: 3, UniqueVisitors: 2}))
	require.NoError(t, store.IncrementDaily(ctx, userID, day(2025, 3, 12), Delta{LinkClicks: 1}))
	require.NoError(t, store.IncrementLinkClick(ctx, userID, linkID, day(2025, 3, 12)))
	require.NoError(t, store.IncrementReferrer(ctx, userID, day(2025, 3, 10), "twitter.com"))
	return linkID
}

func TestExport_FreeTierRequiresUpgrade(t *testing.T) {
	svc, _ := newTestService(testNow)

	file, err := svc.Export(context.Background(), uuid.New(), tier.Free, day(2025, 3, 1), day(2025, 3, 15), FormatCSV)
	assert.Nil(t, file)
	require.Error(t, err)

	var tierErr *TierRequiredError
	require.True(t, errors.As(err, &tierErr))
	assert.Equal(t, tier.Pro, tierErr.Required)
}

func TestExport_CSV(t *testing.T) {
	svc, store := newTestService(testNow)
	userID := uuid.New()
	seedExport(t, store, userID)

	file, err := svc.Export(context.Background(), userID, tier.Pro, day(2025, 3, 10), day(2025, 3, 12), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "biolink-analytics-2025-03-10-to-2025-03-12.csv", file.Filename)
	assert.Contains(t, file.ContentType, "text/csv")

	records, err := csv.NewReader(bytes.NewReader(file.Data)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		dailyHeader,
		{"2025-03-10", "3", "0", "0", "2"},
		{"2025-03-11", "0", "0", "0", "0"},
		{"2025-03-12", "0", "1", "0", "0"},
	}, records)
}

func TestExport_JSON(t *testing.T) {
	svc, store := newTestService(testNow)
	userID := uuid.New()
	linkID := seedExport(t, store, userID)

	file, err := svc.Export(context.Background(), userID, tier.Creator, day(2025, 3, 10), day(2025, 3, 12), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "application/json", file.ContentType)

	var data ExportData
	require.NoError(t, json.Unmarshal(file.Data, &data))
	assert.Equal(t, "2025-03-10", data.From)
	assert.Equal(t, "2025-03-12", data.To)
	assert.Len(t, data.Daily, 3)
	require.Len(t, data.Links, 1)
	assert.Equal(t, linkID, data.Links[0].LinkID)
	require.Len(t, data.Referrers, 1)
	assert.Equal(t, "twitter.com", data.Referrers[0].Source)
}

func TestExport_XLSX(t *testing.T) {
	svc, store := newTestService(testNow)
	userID := uuid.New()
	seedExport(t, store, userID)

	file, err := svc.Export(context.Background(), userID, tier.Lifetime, day(2025, 3, 10), day(2025, 3, 12), FormatXLSX)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(file.Data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetDaily, sheetLinks, sheetReferrers}, f.GetSheetList())

	rows, err := f.GetRows(sheetDaily)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"2025-03-10", "3", "0", "0", "2"}, rows[1])

	rows, err = f.GetRows(sheetLinks)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Newsletter", "https://news.example.com", "1"}, rows[1])

	rows, err = f.GetRows(sheetReferrers)
	require.NoError(t, err)
	assert.Equal(t, []string{"twitter.com", "1"}, rows[1])
}

func TestExport_Range(t *testing.T) {
	svc, _ := newTestService(testNow)
	ctx := context.Background()

	_, err := svc.Export(ctx, uuid.New(), tier.Pro, day(2025, 3, 12), day(2025, 3, 10), FormatJSON)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = svc.Export(ctx, uuid.New(), tier.Pro, day(2000, 1, 1), day(2025, 3, 10), FormatJSON)
	assert.ErrorIs(t, err, ErrRangeTooLarge)

	// the end of the range is clamped to today
	file, err := svc.Export(ctx, uuid.New(), tier.Pro, day(2025, 3, 14), day(2025, 12, 31), FormatJSON)
	require.NoError(t, err)
	var data ExportData
	require.NoError(t, json.Unmarshal(file.Data, &data))
	assert.Equal(t, "2025-03-15", data.To)
	assert.Len(t, data.Daily, 2)
}

func TestParseExportFormat(t *testing.T) {
	f, err := ParseExportFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseExportFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseExportFormat("pdf")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
