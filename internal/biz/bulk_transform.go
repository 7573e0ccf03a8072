package biz

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
)

// bulkLockKey guards against two overlapping transform runs.
const bulkLockKey = "bulk_transform"

// PartRecord is the full catalog record written to the NDJSON output, one
// JSON document per line, ready for mongoimport.
type PartRecord struct {
	PartNumber      string  `json:"partNumber"`
	Description     string  `json:"description"`
	Brand           string  `json:"brand"`
	Supplier        string  `json:"supplier"`
	Price           float64 `json:"price"`
	Currency        string  `json:"currency"`
	Quantity        int64   `json:"quantity"`
	MinOrderQty     int64   `json:"minOrderQty"`
	Stock           string  `json:"stock"`
	StockCode       string  `json:"stockCode"`
	Weight          float64 `json:"weight"`
	WeightUnit      string  `json:"weightUnit"`
	Volume          float64 `json:"volume"`
	DeliveryDays    int64   `json:"deliveryDays"`
	Category        string  `json:"category"`
	Subcategory     string  `json:"subcategory"`
	Integration     string  `json:"integration"`
	IntegrationName string  `json:"integrationName"`
	FileName        string  `json:"fileName"`
	ImportedAt      string  `json:"importedAt,omitempty"`
}

// FileResult reports the outcome of one converted CSV file.
type FileResult struct {
	FileName    string        `json:"file"`
	Records     uint64        `json:"records"`
	NDJSONBytes uint64        `json:"ndjson_bytes"`
	BulkBytes   uint64        `json:"bulk_bytes"`
	Duration    time.Duration `json:"duration"`
	Err         string        `json:"error,omitempty"`
}

// TransformResult aggregates a whole run.
type TransformResult struct {
	TotalRecords uint64        `json:"total_records"`
	Files        []FileResult  `json:"files"`
	Errors       int           `json:"errors"`
	Duration     time.Duration `json:"duration"`
}

// BulkTransformTask converts supplier catalog CSV exports into dual outputs:
// an .ndjson file per input for the document store import, and a .bulk file
// holding a pre-formatted search-engine bulk API body. Files are converted in
// parallel, one worker per file.
type BulkTransformTask struct {
	cfg      *conf.Bulk
	watchdog *MemoryWatchdog
	locks    *JobLockTable
	logger   *log.Helper

	indexName string
}

// NewBulkTransformTask creates the transform task.
func NewBulkTransformTask(cfg *conf.Bulk, watchdog *MemoryWatchdog, locks *JobLockTable, logger log.Logger) *BulkTransformTask {
	return &BulkTransformTask{
		cfg:       cfg,
		watchdog:  watchdog,
		locks:     locks,
		logger:    log.NewHelper(logger),
		indexName: "automotive_parts",
	}
}

// Enabled reports whether the task is configured to run.
func (t *BulkTransformTask) Enabled() bool {
	return t.cfg != nil && t.cfg.InputDir != ""
}

// Run converts every CSV file in the configured input directory. It refuses
// to start under memory pressure and while another run holds the job lock.
func (t *BulkTransformTask) Run(ctx context.Context) (*TransformResult, error) {
	if !t.Enabled() {
		return nil, fmt.Errorf("bulk transform: input directory not configured")
	}

	if err := t.watchdog.Guard("bulk transform"); err != nil {
		return nil, err
	}

	if !t.locks.TryLock(bulkLockKey, 2*time.Hour) {
		return nil, ErrJobAlreadyRunning
	}
	defer t.locks.Unlock(bulkLockKey)

	files, err := listCSVFiles(t.cfg.InputDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("bulk transform: no CSV files in %s", t.cfg.InputDir)
	}

	if err := os.MkdirAll(t.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("bulk transform: create output dir: %w", err)
	}

	// Largest files first for better load balancing across workers.
	sort.Slice(files, func(i, j int) bool { return fileSize(files[i]) > fileSize(files[j]) })

	importedAt := time.Now().UTC().Format(time.RFC3339)
	workers := runtime.GOMAXPROCS(0)

	t.logger.Infow(
		"msg", "bulk transform started",
		"files", len(files),
		"workers", workers,
		"input_dir", t.cfg.InputDir,
		"output_dir", t.cfg.OutputDir,
	)

	start := time.Now()
	var totalRecords atomic.Uint64
	results := make([]FileResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			res := t.convertFile(path, importedAt)
			totalRecords.Add(res.Records)
			results[i] = res
			t.logger.Infow(
				"msg", "bulk transform file done",
				"file", res.FileName,
				"records", res.Records,
				"duration_ms", res.Duration.Milliseconds(),
				"error", res.Err,
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	errCount := 0
	for _, r := range results {
		if r.Err != "" {
			errCount++
		}
	}

	result := &TransformResult{
		TotalRecords: totalRecords.Load(),
		Files:        results,
		Errors:       errCount,
		Duration:     time.Since(start),
	}

	t.logger.Infow(
		"msg", "bulk transform completed",
		"total_records", result.TotalRecords,
		"files", len(files),
		"errors", errCount,
		"duration_ms", result.Duration.Milliseconds(),
	)

	// A run where every file failed is an error; partial success is not.
	if errCount == len(files) {
		return result, fmt.Errorf("bulk transform: all %d files failed", len(files))
	}

	return result, nil
}

// convertFile streams one CSV file into its .ndjson and .bulk outputs.
func (t *BulkTransformTask) convertFile(path, importedAt string) FileResult {
	fileName := filepath.Base(path)
	start := time.Now()

	fail := func(err error) FileResult {
		return FileResult{FileName: fileName, Duration: time.Since(start), Err: err.Error()}
	}

	in, err := os.Open(path)
	if err != nil {
		return fail(fmt.Errorf("open failed: %w", err))
	}
	defer in.Close()

	delimiter := detectDelimiter(path)

	reader := csv.NewReader(bufio.NewReaderSize(in, 256<<10))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1 // tolerate ragged rows
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		return fail(fmt.Errorf("header parse failed: %w", err))
	}

	cols := mapColumns(headers)
	if cols.partNumber < 0 {
		return fail(fmt.Errorf("no part number column detected"))
	}

	stem := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	ndjsonPath := filepath.Join(t.cfg.OutputDir, stem+".ndjson")
	bulkPath := filepath.Join(t.cfg.OutputDir, stem+".bulk")

	ndjsonFile, err := os.Create(ndjsonPath)
	if err != nil {
		return fail(fmt.Errorf("create ndjson output failed: %w", err))
	}
	defer ndjsonFile.Close()

	bulkFile, err := os.Create(bulkPath)
	if err != nil {
		return fail(fmt.Errorf("create bulk output failed: %w", err))
	}
	defer bulkFile.Close()

	ndjsonW := bufio.NewWriterSize(ndjsonFile, 1<<20)
	bulkW := bufio.NewWriterSize(bulkFile, 1<<20)

	// Action line is identical for every record in this index.
	actionLine := fmt.Sprintf("{\"index\":{\"_index\":%q}}\n", t.indexName)

	filenameStockCode := stockCodeFromFilename(fileName)

	var records, ndjsonBytes, bulkBytes uint64

	for {
		row, rerr := reader.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			continue // skip malformed rows
		}

		partNumber := field(row, cols.partNumber)
		if partNumber == "" {
			continue
		}

		stockCode := field(row, cols.stockCode)
		if stockCode == "" {
			stockCode = filenameStockCode
		}
		currency := fieldOr(row, cols.currency, "AED")
		weightUnit := fieldOr(row, cols.weightUnit, "kg")
		stock := fieldOr(row, cols.stock, "unknown")
		minOrderQty := parseInt(field(row, cols.minOrderQty))
		if minOrderQty < 1 {
			minOrderQty = 1
		}

		doc := PartRecord{
			PartNumber:      partNumber,
			Description:     field(row, cols.description),
			Brand:           field(row, cols.brand),
			Supplier:        field(row, cols.supplier),
			Price:           parseFloat(field(row, cols.price)),
			Currency:        currency,
			Quantity:        parseInt(field(row, cols.quantity)),
			MinOrderQty:     minOrderQty,
			Stock:           stock,
			StockCode:       stockCode,
			Weight:          parseFloat(field(row, cols.weight)),
			WeightUnit:      weightUnit,
			Volume:          parseFloat(field(row, cols.volume)),
			DeliveryDays:    parseInt(field(row, cols.deliveryDays)),
			Category:        field(row, cols.category),
			Subcategory:     field(row, cols.subcategory),
			Integration:     t.cfg.InputDir,
			IntegrationName: "",
			FileName:        fileName,
			ImportedAt:      importedAt,
		}

		line, jerr := json.Marshal(&doc)
		if jerr != nil {
			continue
		}
		if n, werr := ndjsonW.Write(append(line, '\n')); werr == nil {
			ndjsonBytes += uint64(n)
		}

		// Search-engine document omits importedAt.
		doc.ImportedAt = ""
		esLine, jerr := json.Marshal(&doc)
		if jerr != nil {
			continue
		}
		if n, werr := bulkW.WriteString(actionLine); werr == nil {
			bulkBytes += uint64(n)
		}
		if n, werr := bulkW.Write(append(esLine, '\n')); werr == nil {
			bulkBytes += uint64(n)
		}

		records++
	}

	if err := ndjsonW.Flush(); err != nil {
		return fail(fmt.Errorf("flush ndjson output failed: %w", err))
	}
	if err := bulkW.Flush(); err != nil {
		return fail(fmt.Errorf("flush bulk output failed: %w", err))
	}

	return FileResult{
		FileName:    fileName,
		Records:     records,
		NDJSONBytes: ndjsonBytes,
		BulkBytes:   bulkBytes,
		Duration:    time.Since(start),
	}
}

// columnMap holds resolved header indexes; -1 means the column is absent.
type columnMap struct {
	partNumber, description, brand, supplier    int
	price, currency, quantity, minOrderQty      int
	stock, stockCode, weight, weightUnit        int
	volume, deliveryDays, category, subcategory int
}

// mapColumns resolves output fields to header positions using the alias sets
// seen across supplier exports. First match wins per field.
func mapColumns(headers []string) columnMap {
	cols := columnMap{
		partNumber: -1, description: -1, brand: -1, supplier: -1,
		price: -1, currency: -1, quantity: -1, minOrderQty: -1,
		stock: -1, stockCode: -1, weight: -1, weightUnit: -1,
		volume: -1, deliveryDays: -1, category: -1, subcategory: -1,
	}

	for i, h := range headers {
		name := strings.Trim(strings.ToLower(strings.TrimSpace(h)), `"'`)

		switch {
		case cols.partNumber < 0 && (strings.Contains(name, "vendor code") || strings.Contains(name, "vendor_code") ||
			name == "partnumber" || name == "part number" || name == "part_number" || name == "sku" ||
			name == "code" || name == "item number" || name == "item #" || name == "product code" || name == "part #"):
			cols.partNumber = i
		case cols.description < 0 && (strings.Contains(name, "title") || strings.Contains(name, "desc") ||
			name == "name" || name == "product name"):
			cols.description = i
		case cols.brand < 0 && (strings.Contains(name, "brand") || name == "manufacturer" || name == "make" || name == "mfr"):
			cols.brand = i
		case cols.supplier < 0 && strings.Contains(name, "supplier"):
			cols.supplier = i
		case cols.price < 0 && (strings.Contains(name, "price") || strings.Contains(name, "cost")):
			cols.price = i
		case cols.currency < 0 && (strings.Contains(name, "currency") || strings.Contains(name, "curr") ||
			name == "aed" || name == "usd"):
			cols.currency = i
		case cols.quantity < 0 && (name == "quantity" || name == "qty"):
			cols.quantity = i
		case cols.minOrderQty < 0 && (strings.Contains(name, "min_lot") || strings.Contains(name, "min lot") ||
			strings.Contains(name, "minorder") || strings.Contains(name, "min_order") || name == "moq" || name == "minimum order"):
			cols.minOrderQty = i
		case cols.stock < 0 && name == "stock":
			cols.stock = i
		case cols.stockCode < 0 && (strings.Contains(name, "stock code") || strings.Contains(name, "stock_code") ||
			strings.Contains(name, "stockcode") || name == "warehouse"):
			cols.stockCode = i
		case cols.weight < 0 && name == "weight":
			cols.weight = i
		case cols.weightUnit < 0 && (strings.Contains(name, "weight_unit") || strings.Contains(name, "weightunit")):
			cols.weightUnit = i
		case cols.volume < 0 && (strings.Contains(name, "volume") || name == "vol"):
			cols.volume = i
		case cols.deliveryDays < 0 && (strings.Contains(name, "delivery") || strings.Contains(name, "lead_time") ||
			strings.Contains(name, "leadtime")):
			cols.deliveryDays = i
		case cols.category < 0 && (name == "category" || name == "cat"):
			cols.category = i
		case cols.subcategory < 0 && (strings.Contains(name, "subcategory") || strings.Contains(name, "subcat") ||
			strings.Contains(name, "sub_category")):
			cols.subcategory = i
		}
	}

	return cols
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.Trim(strings.TrimSpace(row[idx]), `"'`)
}

func fieldOr(row []string, idx int, fallback string) string {
	if v := field(row, idx); v != "" {
		return v
	}
	return fallback
}

// parseFloat handles plain, thousand-separated and European decimal-comma
// formats, stripping currency symbols.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}

	var b strings.Builder
	for _, c := range s {
		if (c >= '0' && c <= '9') || c == '.' || c == '-' || c == ',' {
			b.WriteRune(c)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0
	}

	switch {
	case strings.Contains(cleaned, "."):
		// Dot present: commas are thousand separators.
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case strings.Count(cleaned, ",") == 1:
		// Single comma with 1-2 trailing digits is a European decimal comma.
		parts := strings.Split(cleaned, ",")
		if len(parts[1]) <= 2 && len(parts[1]) > 0 {
			cleaned = parts[0] + "." + parts[1]
		} else {
			cleaned = parts[0] + parts[1]
		}
	default:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseInt extracts the first integer sequence from s.
func parseInt(s string) int64 {
	var n int64
	started := false
	for _, c := range s {
		if c >= '0' && c <= '9' {
			n = n*10 + int64(c-'0')
			started = true
		} else if started {
			break
		}
	}
	return n
}

// stockCodeFromFilename extracts a stock code from filenames like
// "APMG price 1 day_DS1_part1.csv".
func stockCodeFromFilename(name string) string {
	start := strings.LastIndex(name, "_part")
	if start < 0 {
		return ""
	}
	before := name[:start]
	underscore := strings.LastIndex(before, "_")
	if underscore < 0 {
		return ""
	}
	return before[underscore+1:]
}

// detectDelimiter sniffs the first line for semicolon-delimited exports.
func detectDelimiter(path string) rune {
	f, err := os.Open(path)
	if err != nil {
		return ','
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		line := scanner.Text()
		if strings.Count(line, ";") > strings.Count(line, ",") {
			return ';'
		}
	}
	return ','
}

func listCSVFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("bulk transform: read input dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
