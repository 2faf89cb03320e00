package input

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/pagecapture/internal/capture"
)

func workbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer func() { require.NoError(t, f.Close()) }()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestParseWorkbook(t *testing.T) {
	t.Parallel()

	buf := workbook(t, [][]any{
		{"Name", "EN_URL", "ES_URL"},
		{"home", "https://ex.com/", "https://ex.com/es/"},
		{"about", "https://ex.com/about", ""},
		{"", "", ""},
		{"contact", "", " https://ex.com/es/contacto "},
	})

	pairs, err := NewParser(nil).Parse("urls.xlsx", buf)
	require.NoError(t, err)
	require.Equal(t, []capture.URLPair{
		capture.NewURLPair("EN", "https://ex.com/", "ES", "https://ex.com/es/"),
		capture.NewURLPair("EN", "https://ex.com/about", "ES", ""),
		capture.NewURLPair("EN", "", "ES", "https://ex.com/es/contacto"),
	}, pairs)
}

func TestParseCSV(t *testing.T) {
	t.Parallel()

	data := "\ufeffES_URL,EN_URL\nhttps://ex.com/es,https://ex.com/en\n,,\nhttps://ex.com/es/2\n"
	pairs, err := NewParser(nil).Parse("URLS.CSV", strings.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, []capture.URLPair{
		capture.NewURLPair("EN", "https://ex.com/en", "ES", "https://ex.com/es"),
		capture.NewURLPair("EN", "", "ES", "https://ex.com/es/2"),
	}, pairs)
}

func TestParseCustomColumns(t *testing.T) {
	t.Parallel()

	p := NewParser([]Column{{Locale: "FR", Header: "FR_URL"}})
	require.Equal(t, []string{"FR"}, p.Locales())
	pairs, err := p.Parse("a.csv", strings.NewReader("FR_URL\nhttps://ex.fr\n"))
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.Equal(t, "FR", pairs[0].URLs[0].Locale)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	p := NewParser(nil)

	_, err := p.Parse("a.csv", strings.NewReader("EN_URL\nhttps://a\n"))
	require.ErrorIs(t, err, ErrMissingColumn)
	require.ErrorContains(t, err, "ES_URL")

	_, err = p.Parse("a.txt", strings.NewReader("EN_URL,ES_URL\n"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = p.Parse("a.xlsx", strings.NewReader("not a zip"))
	require.Error(t, err)

	_, err = p.Parse("a.csv", strings.NewReader(""))
	require.ErrorIs(t, err, ErrEmptyWorkbook)
}

func TestParseHeaderOnly(t *testing.T) {
	t.Parallel()

	pairs, err := NewParser(nil).Parse("a.csv", strings.NewReader("EN_URL,ES_URL\n"))
	require.NoError(t, err)
	require.Empty(t, pairs)
}
