package gdrive

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

func newCSVReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader
}

// readCSV loads every record of the exported table. cols is the widest
// record, the header included.
func readCSV(path string) (records [][]string, cols int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	records, err = newCSVReader(f).ReadAll()
	if err != nil {
		return nil, 0, fmt.Errorf("read csv %s: %w", path, err)
	}
	for _, record := range records {
		if len(record) > cols {
			cols = len(record)
		}
	}
	return records, cols, nil
}

// CSVDimensions counts the rows (header included) and the widest row of the
// CSV at path without holding it in memory.
func CSVDimensions(path string) (rows, cols int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	reader := newCSVReader(f)
	reader.ReuseRecord = true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, cols, nil
		}
		if err != nil {
			return 0, 0, fmt.Errorf("read csv %s: %w", path, err)
		}
		rows++
		if len(record) > cols {
			cols = len(record)
		}
	}
}
