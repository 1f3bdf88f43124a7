package gdrive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"
)

func TestBatchLimit(t *testing.T) {
	tests := []struct {
		cols int
		base int
		want int
	}{
		{cols: 1, base: 500, want: 500},
		{cols: 20, base: 500, want: 500},
		{cols: 39, base: 500, want: 500},
		{cols: 40, base: 500, want: 250},
		{cols: 100, base: 500, want: 100},
		{cols: 250, base: 500, want: 41},
		{cols: 100000, base: 500, want: 1},
		{cols: 5, base: 0, want: DefaultBatchLimit},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.cols, tt.base), func(t *testing.T) {
			require.Equal(t, tt.want, BatchLimit(tt.cols, tt.base))
		})
	}
}

func TestBatchRanges(t *testing.T) {
	require.Nil(t, BatchRanges(0, 500))
	require.Equal(t, [][2]int{{0, 500}, {500, 1000}, {1000, 1200}}, BatchRanges(1200, 500))
	require.Len(t, BatchRanges(1300, 500), 3)
	require.Equal(t, [][2]int{{0, 500}}, BatchRanges(500, 500))
}

func TestCellBatchFeedPadsShortRows(t *testing.T) {
	records := [][]string{{"h1", "h2", "h3"}, {"a & b"}}
	out, err := cellBatchFeed("https://x/feeds/cells/doc/od6/private/full", records, 3, 1, 2)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out))
	entries := doc.Root().SelectElements("entry")
	require.Len(t, entries, 3)

	first := entries[0]
	require.Equal(t, "R2C1", childNS(first, batchNS, "id").Text())
	require.Equal(t, "update", childNS(first, batchNS, "operation").SelectAttrValue("type", ""))
	require.Equal(t, "https://x/feeds/cells/doc/od6/private/full/R2C1", childNS(first, atomNS, "id").Text())
	cell := childNS(first, gsNS, "cell")
	require.Equal(t, "2", cell.SelectAttrValue("row", ""))
	require.Equal(t, "1", cell.SelectAttrValue("col", ""))
	require.Equal(t, "a & b", cell.SelectAttrValue("inputValue", ""))

	require.Equal(t, "", childNS(entries[2], gsNS, "cell").SelectAttrValue("inputValue", "x"))
}

func TestParseBatchStatuses(t *testing.T) {
	body := `<feed xmlns="http://www.w3.org/2005/Atom" xmlns:batch="http://schemas.google.com/gdata/batch">
	<entry><batch:id>R7C1</batch:id><batch:status code="200" reason="Success"/></entry>
	<entry><batch:id>R9C2</batch:id><batch:status code="409" reason="Conflict"/></entry>
	<entry><batch:status code="500" reason="Internal Error"/></entry>
	<status reason="not batch"/>
</feed>`
	statuses, err := parseBatchStatuses([]byte(body), 5, 10)
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	require.True(t, statuses[0].Success())
	require.Equal(t, 409, statuses[1].Code)
	require.Equal(t, 9, statuses[1].FirstRow)
	require.Equal(t, 9, statuses[1].LastRow)
	require.Equal(t, 5, statuses[2].FirstRow)
	require.Equal(t, 10, statuses[2].LastRow)
}

func TestUpdateCellsSendsSequentialBatches(t *testing.T) {
	var mu sync.Mutex
	var cellsPerBatch []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feeds/cells/doc1/od6/private/full/batch" || r.Header.Get("If-Match") != "*" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		cellsPerBatch = append(cellsPerBatch, strings.Count(string(body), "<gs:cell "))
		n := len(cellsPerBatch)
		mu.Unlock()

		reason := "Success"
		if n == 2 {
			reason = "Conflict"
		}
		_, _ = fmt.Fprintf(w, `<feed xmlns="%s" xmlns:batch="%s"><entry><batch:id>R%dC1</batch:id><batch:status code="200" reason="%s"/></entry></feed>`,
			atomNS, batchNS, (n-1)*500+1, reason)
	}))
	defer server.Close()

	var csv strings.Builder
	csv.WriteString("id,name,amount\n")
	for i := 1; i < 1200; i++ {
		fmt.Fprintf(&csv, "%d,row%d,%d\n", i, i, i*10)
	}
	client := newTestClient(t, server, Options{})
	file := writeCSV(t, csv.String())
	file.RemoteID = "doc1"
	file.SheetID = "od6"

	result, err := client.UpdateCells(context.Background(), file)
	require.NoError(t, err)
	require.Equal(t, 1200, result.Rows)
	require.Equal(t, 3, result.Cols)
	require.Equal(t, 3, result.Batches)
	require.Equal(t, []int{1500, 1500, 600}, cellsPerBatch)
	require.Len(t, result.Errors, 1)
	require.Equal(t, "Conflict", result.Errors[0].Reason)
	require.Equal(t, 501, result.Errors[0].FirstRow)
}

func TestUpdateCellsStopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server, Options{})
	file := writeCSV(t, "a\nb\n")
	file.RemoteID = "doc1"
	file.SheetID = "od6"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := client.UpdateCells(ctx, file)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, result.Batches)
}
