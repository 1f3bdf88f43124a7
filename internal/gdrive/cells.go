package gdrive

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/beevik/etree"

	"github.com/chmdznr/table-to-drive-writer/pkg/models"
)

// Columns per batch share; wider tables get proportionally fewer rows.
const batchColumnStep = 20

// CellUpdateResult summarizes a batched cell update. Rows counts every CSV
// row including the header.
type CellUpdateResult struct {
	Rows    int
	Cols    int
	Batches int
	Errors  []models.BatchStatus
}

// BatchLimit is the number of rows sent per batch for a table cols wide.
func BatchLimit(cols, base int) int {
	if base <= 0 {
		base = DefaultBatchLimit
	}
	if cols <= batchColumnStep {
		return base
	}
	limit := base / (cols / batchColumnStep)
	if limit < 1 {
		return 1
	}
	return limit
}

// BatchRanges splits rows into consecutive half-open [start, end) ranges of
// at most limit rows.
func BatchRanges(rows, limit int) [][2]int {
	if rows <= 0 || limit <= 0 {
		return nil
	}
	ranges := make([][2]int, 0, (rows+limit-1)/limit)
	for start := 0; start < rows; start += limit {
		end := start + limit
		if end > rows {
			end = rows
		}
		ranges = append(ranges, [2]int{start, end})
	}
	return ranges
}

// UpdateCells writes every value of the file's CSV into worksheet
// file.SheetID using sequential batch requests. Entries the service rejects
// are collected in the result; they never stop the update.
func (c *Client) UpdateCells(ctx context.Context, file *models.File) (*CellUpdateResult, error) {
	records, cols, err := readCSV(file.Pathname)
	if err != nil {
		return nil, err
	}
	result := &CellUpdateResult{Rows: len(records), Cols: cols}
	feedURL := c.cellsURL(file.RemoteID, file.SheetID)
	limit := BatchLimit(cols, c.batchLimit)

	header := atomHeader(atomContentType)
	header.Set("Content-Type", atomContentType)
	header.Set("If-Match", "*")

	for _, batch := range BatchRanges(len(records), limit) {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("cell update stopped at row %d of %d: %w", batch[0], len(records), err)
		}
		body, err := cellBatchFeed(feedURL, records, cols, batch[0], batch[1])
		if err != nil {
			return result, err
		}
		req := request{method: http.MethodPost, url: feedURL + "/batch", header: header, body: bytesBody(body), retry: true}
		resp, err := c.call(ctx, req, nil)
		if err != nil {
			return result, fmt.Errorf("cell batch rows %d-%d: %w", batch[0]+1, batch[1], err)
		}
		statuses, err := parseBatchStatuses(resp.Body, batch[0]+1, batch[1])
		if err != nil {
			return result, err
		}
		for _, status := range statuses {
			if !status.Success() {
				result.Errors = append(result.Errors, status)
			}
		}
		result.Batches++
		c.logger.Debug("cell batch sent", "file", file.ID, "from", batch[0]+1, "to", batch[1], "cells", (batch[1]-batch[0])*cols)
	}
	return result, nil
}

func cellID(row, col int) string {
	return "R" + strconv.Itoa(row) + "C" + strconv.Itoa(col)
}

// cellBatchFeed renders rows [start, end) as a batch feed of cell updates.
// Short rows are padded with empty cells up to cols.
func cellBatchFeed(feedURL string, records [][]string, cols, start, end int) ([]byte, error) {
	doc := newDocument()
	feed := doc.CreateElement("feed")
	feed.CreateAttr("xmlns", atomNS)
	feed.CreateAttr("xmlns:batch", batchNS)
	feed.CreateAttr("xmlns:gs", gsNS)
	feed.CreateElement("id").SetText(feedURL)

	for r := start; r < end; r++ {
		record := records[r]
		for col := 0; col < cols; col++ {
			value := ""
			if col < len(record) {
				value = record[col]
			}
			id := cellID(r+1, col+1)
			entry := feed.CreateElement("entry")
			entry.CreateElement("batch:id").SetText(id)
			entry.CreateElement("batch:operation").CreateAttr("type", "update")
			entry.CreateElement("id").SetText(feedURL + "/" + id)
			link := entry.CreateElement("link")
			link.CreateAttr("rel", "edit")
			link.CreateAttr("type", atomContentType)
			link.CreateAttr("href", feedURL+"/"+id)
			cell := entry.CreateElement("gs:cell")
			cell.CreateAttr("row", strconv.Itoa(r+1))
			cell.CreateAttr("col", strconv.Itoa(col+1))
			cell.CreateAttr("inputValue", value)
		}
	}
	return doc.WriteToBytes()
}

var cellIDPattern = regexp.MustCompile(`^R(\d+)C\d+$`)

// parseBatchStatuses reads every batch:status of a batch response. A status
// is attributed to its cell's row when the entry carries a batch:id, and to
// the whole batch range otherwise.
func parseBatchStatuses(body []byte, firstRow, lastRow int) ([]models.BatchStatus, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("parse batch response: %w", err)
	}
	var out []models.BatchStatus
	for _, el := range doc.FindElements("//status") {
		if el.NamespaceURI() != batchNS {
			continue
		}
		status := models.BatchStatus{
			Reason:   el.SelectAttrValue("reason", ""),
			FirstRow: firstRow,
			LastRow:  lastRow,
		}
		status.Code, _ = strconv.Atoi(el.SelectAttrValue("code", ""))
		if parent := el.Parent(); parent != nil {
			if id := childNS(parent, batchNS, "id"); id != nil {
				if m := cellIDPattern.FindStringSubmatch(id.Text()); m != nil {
					row, _ := strconv.Atoi(m[1])
					status.FirstRow, status.LastRow = row, row
				}
			}
		}
		out = append(out, status)
	}
	return out, nil
}
