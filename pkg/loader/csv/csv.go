package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader"
)

// CSVFileLoader renders CSV tables as one "column: value" line per row so
// chunks keep the header context of every cell.
type CSVFileLoader struct {
	loader loader.FileLoader
	cache  *loader.Cache
}

func NewCSVFileLoader(base loader.FileLoader) *CSVFileLoader {
	return &CSVFileLoader{
		loader: base,
		cache:  loader.NewCache(),
	}
}

func (l *CSVFileLoader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return l.cache.Do(loader.CacheKey(file), func() ([]byte, error) {
		content, err := l.loader.GetFileText(ctx, file)
		if err != nil {
			return nil, err
		}
		return ParseCSV(content)
	})
}

// ParseCSV converts CSV content to text. The first non-empty record is the
// header; unnamed columns are called "column N". Blank rows and malformed
// records are skipped. A table without data rows yields empty text.
func ParseCSV(content []byte) ([]byte, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var header []string
	var output strings.Builder

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}
		if isBlank(record) {
			continue
		}
		if header == nil {
			header = make([]string, len(record))
			for i, h := range record {
				header[i] = strings.TrimSpace(h)
			}
			continue
		}

		first := true
		for i, field := range record {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			if !first {
				output.WriteString("; ")
			}
			first = false
			output.WriteString(columnName(header, i))
			output.WriteString(": ")
			output.WriteString(field)
		}
		output.WriteByte('\n')
	}

	return []byte(loader.NormalizeText(output.String())), nil
}

func columnName(header []string, i int) string {
	if i < len(header) && header[i] != "" {
		return header[i]
	}
	return "column " + strconv.Itoa(i+1)
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
