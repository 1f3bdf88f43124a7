package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/chmdznr/table-to-drive-writer/pkg/models"
)

const (
	atomNS  = "http://www.w3.org/2005/Atom"
	gsNS    = "http://schemas.google.com/spreadsheets/2006"
	batchNS = "http://schemas.google.com/gdata/batch"
)

var ErrWorksheetNotFound = errors.New("worksheet not found")

// Worksheet is one tab of a spreadsheet. ID is the numeric gid used in
// export links, WSID the feed identifier used by the cells feed.
type Worksheet struct {
	ID    string `json:"id"`
	WSID  string `json:"wsid"`
	Title string `json:"title"`
}

func (c *Client) worksheetsURL(fileID string) string {
	return c.feedsURL + "/worksheets/" + url.PathEscape(fileID) + "/private/full"
}

func (c *Client) cellsURL(fileID, sheetID string) string {
	return c.feedsURL + "/cells/" + url.PathEscape(fileID) + "/" + url.PathEscape(sheetID) + "/private/full"
}

// GetWorksheetsFeed returns the raw worksheets feed of a spreadsheet, as
// Atom XML or, with asJSON, the feed's JSON rendering.
func (c *Client) GetWorksheetsFeed(ctx context.Context, fileID string, asJSON bool) ([]byte, error) {
	target := c.worksheetsURL(fileID)
	accept := atomContentType
	if asJSON {
		target += "?alt=json"
		accept = "application/json"
	}
	resp, err := c.call(ctx, request{method: http.MethodGet, url: target, header: atomHeader(accept), retry: true}, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

type feedText struct {
	T string `json:"$t"`
}

type worksheetsFeed struct {
	Feed struct {
		Entry []struct {
			ID    feedText `json:"id"`
			Title feedText `json:"title"`
			Link  []struct {
				Rel  string `json:"rel"`
				Type string `json:"type"`
				Href string `json:"href"`
			} `json:"link"`
		} `json:"entry"`
	} `json:"feed"`
}

// GetWorksheets lists the worksheets of a spreadsheet keyed by gid.
func (c *Client) GetWorksheets(ctx context.Context, fileID string) (map[string]Worksheet, error) {
	raw, err := c.GetWorksheetsFeed(ctx, fileID, true)
	if err != nil {
		return nil, err
	}
	var feed worksheetsFeed
	if err := json.Unmarshal(raw, &feed); err != nil {
		return nil, fmt.Errorf("decode worksheets feed: %w", err)
	}

	sheets := make(map[string]Worksheet, len(feed.Feed.Entry))
	for _, entry := range feed.Feed.Entry {
		ws := Worksheet{WSID: lastSegment(entry.ID.T), Title: entry.Title.T}
		for _, link := range entry.Link {
			if link.Type != "text/csv" {
				continue
			}
			if u, err := url.Parse(link.Href); err == nil {
				ws.ID = u.Query().Get("gid")
			}
		}
		key := ws.ID
		if key == "" {
			key = ws.WSID
		}
		sheets[key] = ws
	}
	return sheets, nil
}

// CreateWorksheet adds a worksheet sized to the file's CSV and returns the
// created Atom entry.
func (c *Client) CreateWorksheet(ctx context.Context, file *models.File) ([]byte, error) {
	rows, cols, err := CSVDimensions(file.Pathname)
	if err != nil {
		return nil, err
	}
	body, err := worksheetEntry(file.Title, rows, cols)
	if err != nil {
		return nil, err
	}
	header := atomHeader(atomContentType)
	header.Set("Content-Type", atomContentType)
	req := request{method: http.MethodPost, url: c.worksheetsURL(file.RemoteID), header: header, body: bytesBody(body)}
	resp, err := c.call(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// UpdateWorksheet resizes worksheet file.SheetID to the dimensions of the
// file's CSV.
func (c *Client) UpdateWorksheet(ctx context.Context, file *models.File) error {
	rows, cols, err := CSVDimensions(file.Pathname)
	if err != nil {
		return err
	}
	feed, err := c.GetWorksheetsFeed(ctx, file.RemoteID, false)
	if err != nil {
		return err
	}
	body, err := resizeWorksheetEntry(feed, file.SheetID, rows, cols)
	if err != nil {
		return err
	}

	header := atomHeader(atomContentType)
	header.Set("Content-Type", atomContentType)
	header.Set("If-Match", "*")
	target := c.worksheetsURL(file.RemoteID) + "/" + url.PathEscape(file.SheetID)
	_, err = c.call(ctx, request{method: http.MethodPut, url: target, header: header, body: bytesBody(body), retry: true}, nil)
	return err
}

// GetCellsFeed returns the raw cells feed of the file's worksheet.
func (c *Client) GetCellsFeed(ctx context.Context, file *models.File) ([]byte, error) {
	req := request{
		method: http.MethodGet,
		url:    c.cellsURL(file.RemoteID, file.SheetID),
		header: atomHeader(atomContentType),
		retry:  true,
	}
	resp, err := c.call(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// WorksheetIDFromEntry extracts the worksheet id from an Atom entry returned
// by CreateWorksheet.
func WorksheetIDFromEntry(entry []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(entry); err != nil {
		return "", fmt.Errorf("parse worksheet entry: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "entry" {
		return "", errors.New("parse worksheet entry: no entry element")
	}
	id := childNS(root, atomNS, "id")
	if id == nil {
		return "", errors.New("parse worksheet entry: no id element")
	}
	wsid := lastSegment(id.Text())
	if wsid == "" {
		return "", errors.New("parse worksheet entry: empty id")
	}
	return wsid, nil
}

func newDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	return doc
}

func worksheetEntry(title string, rows, cols int) ([]byte, error) {
	doc := newDocument()
	entry := doc.CreateElement("entry")
	entry.CreateAttr("xmlns", atomNS)
	entry.CreateAttr("xmlns:gs", gsNS)
	entry.CreateElement("title").SetText(title)
	entry.CreateElement("gs:rowCount").SetText(strconv.Itoa(rows))
	entry.CreateElement("gs:colCount").SetText(strconv.Itoa(cols))
	return doc.WriteToBytes()
}

// resizeWorksheetEntry finds the entry of worksheet sheetID in a worksheets
// feed and returns it as a standalone document with new dimensions. The
// entry is matched on the last path segment of its id.
func resizeWorksheetEntry(feed []byte, sheetID string, rows, cols int) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(feed); err != nil {
		return nil, fmt.Errorf("parse worksheets feed: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.New("parse worksheets feed: empty document")
	}

	var entry *etree.Element
	for _, candidate := range root.ChildElements() {
		if !matchNS(candidate, atomNS, "entry") {
			continue
		}
		id := childNS(candidate, atomNS, "id")
		if id != nil && lastSegment(id.Text()) == sheetID {
			entry = candidate
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("worksheet %s: %w", sheetID, ErrWorksheetNotFound)
	}

	setCount(entry, "rowCount", rows)
	setCount(entry, "colCount", cols)

	out := entry.Copy()
	for _, attr := range root.Attr {
		if attr.Space == "xmlns" || (attr.Space == "" && attr.Key == "xmlns") {
			if out.SelectAttr(attr.FullKey()) == nil {
				out.CreateAttr(attr.FullKey(), attr.Value)
			}
		}
	}
	if out.SelectAttr("xmlns") == nil {
		out.CreateAttr("xmlns", atomNS)
	}
	if out.SelectAttr("xmlns:gs") == nil {
		out.CreateAttr("xmlns:gs", gsNS)
	}

	result := newDocument()
	result.SetRoot(out)
	return result.WriteToBytes()
}

func setCount(entry *etree.Element, name string, value int) {
	el := childNS(entry, gsNS, name)
	if el == nil {
		el = entry.CreateElement("gs:" + name)
	}
	el.SetText(strconv.Itoa(value))
}

func matchNS(el *etree.Element, ns, local string) bool {
	return el.Tag == local && el.NamespaceURI() == ns
}

func childNS(parent *etree.Element, ns, local string) *etree.Element {
	for _, child := range parent.ChildElements() {
		if matchNS(child, ns, local) {
			return child
		}
	}
	return nil
}

func lastSegment(id string) string {
	id = strings.TrimRight(strings.TrimSpace(id), "/")
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}
