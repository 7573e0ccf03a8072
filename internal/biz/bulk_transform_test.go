package biz

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBulkTask(t *testing.T, inputDir, outputDir string) *BulkTransformTask {
	t.Helper()
	logger := log.NewStdLogger(os.Stdout)
	watchdog := NewMemoryWatchdog(nil, logger)
	watchdog.sample = func() uint64 { return 100 * mib }
	return NewBulkTransformTask(
		&conf.Bulk{InputDir: inputDir, OutputDir: outputDir},
		watchdog,
		NewJobLockTable(logger),
		logger,
	)
}

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestBulkTransform_ConvertsCSV(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	writeCSV(t, inDir, "catalog.csv",
		"Part Number,Description,Brand,Price,Quantity\n"+
			"BP-1001,Brake pad front,Bosch,120.50,4\n"+
			"FL-2002,Oil filter,Mann,35.00,12\n")

	task := newTestBulkTask(t, inDir, outDir)
	result, err := task.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, uint64(2), result.TotalRecords)
	assert.Equal(t, 0, result.Errors)
	require.Len(t, result.Files, 1)
	assert.Equal(t, "catalog.csv", result.Files[0].FileName)

	// NDJSON output: one document per line.
	lines := readLines(t, filepath.Join(outDir, "catalog.ndjson"))
	require.Len(t, lines, 2)

	var doc PartRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &doc))
	assert.Equal(t, "BP-1001", doc.PartNumber)
	assert.Equal(t, "Brake pad front", doc.Description)
	assert.Equal(t, "Bosch", doc.Brand)
	assert.Equal(t, 120.50, doc.Price)
	assert.Equal(t, int64(4), doc.Quantity)
	assert.Equal(t, "AED", doc.Currency, "currency defaults to AED")
	assert.Equal(t, "kg", doc.WeightUnit, "weight unit defaults to kg")
	assert.Equal(t, int64(1), doc.MinOrderQty, "minimum order quantity floors at 1")
	assert.Equal(t, "catalog.csv", doc.FileName)
	assert.NotEmpty(t, doc.ImportedAt)

	// Bulk output: action line then document, per record.
	bulkLines := readLines(t, filepath.Join(outDir, "catalog.bulk"))
	require.Len(t, bulkLines, 4)
	assert.Equal(t, `{"index":{"_index":"automotive_parts"}}`, bulkLines[0])

	var esDoc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(bulkLines[1]), &esDoc))
	assert.Equal(t, "BP-1001", esDoc["partNumber"])
	assert.NotContains(t, esDoc, "importedAt", "search documents omit the import timestamp")
}

func TestBulkTransform_HeaderAliases(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	writeCSV(t, inDir, "supplier.csv",
		"Vendor Code,Title,Manufacturer,Cost,Qty,MOQ,Currency\n"+
			"VC-1,Wheel bearing,SKF,89.90,7,5,USD\n")

	task := newTestBulkTask(t, inDir, outDir)
	result, err := task.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), result.TotalRecords)

	lines := readLines(t, filepath.Join(outDir, "supplier.ndjson"))
	require.Len(t, lines, 1)

	var doc PartRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &doc))
	assert.Equal(t, "VC-1", doc.PartNumber)
	assert.Equal(t, "Wheel bearing", doc.Description)
	assert.Equal(t, "SKF", doc.Brand)
	assert.Equal(t, 89.90, doc.Price)
	assert.Equal(t, int64(7), doc.Quantity)
	assert.Equal(t, int64(5), doc.MinOrderQty)
	assert.Equal(t, "USD", doc.Currency)
}

func TestBulkTransform_SemicolonDelimiter(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	writeCSV(t, inDir, "euro.csv",
		"part_number;description;price\n"+
			"EU-1;Luftfilter;12,50\n")

	task := newTestBulkTask(t, inDir, outDir)
	result, err := task.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), result.TotalRecords)

	lines := readLines(t, filepath.Join(outDir, "euro.ndjson"))
	var doc PartRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &doc))
	assert.Equal(t, "EU-1", doc.PartNumber)
	assert.Equal(t, 12.50, doc.Price, "decimal comma is parsed as European notation")
}

func TestBulkTransform_SkipsRowsWithoutPartNumber(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	writeCSV(t, inDir, "gaps.csv",
		"sku,description\n"+
			"A-1,first\n"+
			",missing part number\n"+
			"A-2,second\n")

	task := newTestBulkTask(t, inDir, outDir)
	result, err := task.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), result.TotalRecords)
}

func TestBulkTransform_StockCodeFromFilename(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	writeCSV(t, inDir, "APMG price 1 day_DS1_part1.csv",
		"sku,description\n"+
			"SC-1,bearing\n")

	task := newTestBulkTask(t, inDir, outDir)
	_, err := task.Run(context.Background())
	require.NoError(t, err)

	lines := readLines(t, filepath.Join(outDir, "APMG price 1 day_DS1_part1.ndjson"))
	var doc PartRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &doc))
	assert.Equal(t, "DS1", doc.StockCode)
}

func TestBulkTransform_FileWithoutPartColumnCountsAsError(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	writeCSV(t, inDir, "good.csv", "sku,description\nG-1,good part\n")
	writeCSV(t, inDir, "bad.csv", "foo,bar\nx,y\n")

	task := newTestBulkTask(t, inDir, outDir)
	result, err := task.Run(context.Background())

	// Partial success is not an error.
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, uint64(1), result.TotalRecords)
}

func TestBulkTransform_AllFilesFailedIsError(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	writeCSV(t, inDir, "bad.csv", "foo,bar\nx,y\n")

	task := newTestBulkTask(t, inDir, outDir)
	result, err := task.Run(context.Background())
	assert.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Errors)
}

func TestBulkTransform_NoInputFiles(t *testing.T) {
	task := newTestBulkTask(t, t.TempDir(), t.TempDir())

	_, err := task.Run(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no CSV files")
}

func TestBulkTransform_NotConfigured(t *testing.T) {
	task := newTestBulkTask(t, "", t.TempDir())

	assert.False(t, task.Enabled())
	_, err := task.Run(context.Background())
	assert.Error(t, err)
}

func TestBulkTransform_RefusesUnderMemoryPressure(t *testing.T) {
	inDir := t.TempDir()
	writeCSV(t, inDir, "catalog.csv", "sku\nX-1\n")

	task := newTestBulkTask(t, inDir, t.TempDir())
	task.watchdog.sample = func() uint64 { return 4096 * mib }

	_, err := task.Run(context.Background())
	var pressure *ErrMemoryPressure
	assert.ErrorAs(t, err, &pressure)
}

func TestBulkTransform_RefusesOverlappingRun(t *testing.T) {
	inDir := t.TempDir()
	writeCSV(t, inDir, "catalog.csv", "sku\nX-1\n")

	task := newTestBulkTask(t, inDir, t.TempDir())
	require.True(t, task.locks.TryLock(bulkLockKey, time.Hour))

	_, err := task.Run(context.Background())
	assert.ErrorIs(t, err, ErrJobAlreadyRunning)
}

func TestParseFloat(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"12.5", 12.5},
		{"12,50", 12.5},
		{"1,234.56", 1234.56},
		{"1.234", 1.234},
		{"AED 99.90", 99.9},
		{"$ 1,000", 1000},
		{"-5.5", -5.5},
		{"garbage", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseFloat(tt.in))
		})
	}
}

func TestParseInt(t *testing.T) {
	assert.Equal(t, int64(0), parseInt(""))
	assert.Equal(t, int64(42), parseInt("42"))
	assert.Equal(t, int64(10), parseInt("10 pcs"))
	assert.Equal(t, int64(3), parseInt("min 3 units"))
	assert.Equal(t, int64(0), parseInt("none"))
}

func TestStockCodeFromFilename(t *testing.T) {
	assert.Equal(t, "DS1", stockCodeFromFilename("APMG price 1 day_DS1_part1.csv"))
	assert.Equal(t, "", stockCodeFromFilename("catalog.csv"))
	assert.Equal(t, "", stockCodeFromFilename("part1.csv"))
}

func TestMapColumns_FirstMatchWins(t *testing.T) {
	cols := mapColumns([]string{"SKU", "Part Number", "Description"})
	assert.Equal(t, 0, cols.partNumber, "the first matching header wins")
	assert.Equal(t, 2, cols.description)
}

func TestDetectDelimiter(t *testing.T) {
	dir := t.TempDir()

	comma := writeCSV(t, dir, "comma.csv", "a,b,c\n1,2,3\n")
	semi := writeCSV(t, dir, "semi.csv", "a;b;c\n1;2;3\n")

	assert.Equal(t, ',', detectDelimiter(comma))
	assert.Equal(t, ';', detectDelimiter(semi))
	assert.True(t, strings.HasSuffix(semi, ".csv"))
}
