package gdrive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/drive/v3"

	"github.com/chmdznr/table-to-drive-writer/pkg/models"
)

const createdTitleLayout = "2006-01-02 15:04:05"

// ListFiles returns the first page of objects matching query.
func (c *Client) ListFiles(ctx context.Context, query string) ([]*drive.File, error) {
	params := url.Values{}
	if query != "" {
		params.Set("q", query)
	}
	params.Set("fields", "files("+fileFields+")")

	var list drive.FileList
	req := request{method: http.MethodGet, url: c.metadataURL + "?" + params.Encode(), retry: true}
	if _, err := c.call(ctx, req, &list); err != nil {
		return nil, err
	}
	return list.Files, nil
}

func (c *Client) GetFile(ctx context.Context, id string) (*drive.File, error) {
	if id == "" {
		return nil, errors.New("get file: empty id")
	}
	var out drive.File
	req := request{method: http.MethodGet, url: c.fileURL(id, nil), retry: true}
	if _, err := c.call(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteFile removes the remote object. A missing object is not an error.
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("delete file: empty id")
	}
	req := request{method: http.MethodDelete, url: c.metadataURL + "/" + url.PathEscape(id), retry: true}
	_, err := c.call(ctx, req, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// InsertFile creates a new remote object from file.Pathname.
func (c *Client) InsertFile(ctx context.Context, file *models.File) (*drive.File, error) {
	if err := checkUpload(file); err != nil {
		return nil, err
	}
	if c.useResumable(file) {
		return c.insertResumable(ctx, file)
	}
	return c.insertSimple(ctx, file)
}

// UpdateFile replaces the content of file.RemoteID and reconciles its name
// and parent folder.
func (c *Client) UpdateFile(ctx context.Context, file *models.File) (*drive.File, error) {
	if err := checkUpload(file); err != nil {
		return nil, err
	}
	if file.RemoteID == "" {
		return nil, errors.New("update file: no remote id")
	}
	if c.useResumable(file) {
		return c.updateResumable(ctx, file)
	}
	return c.updateSimple(ctx, file)
}

func checkUpload(file *models.File) error {
	if file == nil {
		return errors.New("upload: nil file")
	}
	if file.Pathname == "" {
		return fmt.Errorf("upload %s: no exported data", file.ID)
	}
	return nil
}

func (c *Client) useResumable(file *models.File) bool {
	return c.resumableThreshold < 0 || file.Size > c.resumableThreshold
}

// title is the remote name for a new object. Explicit CREATE runs get a
// timestamp suffix so repeated runs never collide.
func (c *Client) title(file *models.File) string {
	if file.IsOperationCreate() {
		return fmt.Sprintf("%s (%s)", file.Title, c.now().Format(createdTitleLayout))
	}
	return file.Title
}

func newMetadata(file *models.File, name string) *drive.File {
	meta := &drive.File{Name: name}
	if file.Type == models.TypeSheet {
		meta.MimeType = SpreadsheetMimeType
	}
	return meta
}

func (c *Client) fileURL(id string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("fields", fileFields)
	return c.metadataURL + "/" + url.PathEscape(id) + "?" + params.Encode()
}

func (c *Client) mediaURL(id string) string {
	params := url.Values{}
	params.Set("uploadType", "media")
	params.Set("fields", fileFields)
	return c.uploadURL + "/" + url.PathEscape(id) + "?" + params.Encode()
}

func (c *Client) insertSimple(ctx context.Context, file *models.File) (*drive.File, error) {
	req, err := jsonRequest(http.MethodPost, c.metadataURL+"?fields="+url.QueryEscape(fileFields), newMetadata(file, c.title(file)))
	if err != nil {
		return nil, err
	}
	var created drive.File
	if _, err := c.call(ctx, req, &created); err != nil {
		return nil, fmt.Errorf("create %q: %w", file.Title, err)
	}
	if created.Id == "" {
		return nil, fmt.Errorf("create %q: response has no id", file.Title)
	}

	uploaded, err := c.uploadMedia(ctx, created.Id, file)
	if err != nil {
		return nil, err
	}
	if file.TargetFolder == "" {
		return uploaded, nil
	}
	add, remove := parentsDiff(uploaded.Parents, file.TargetFolder)
	return c.patchMetadata(ctx, created.Id, &drive.File{}, add, remove)
}

func (c *Client) updateSimple(ctx context.Context, file *models.File) (*drive.File, error) {
	current, err := c.GetFile(ctx, file.RemoteID)
	if err != nil {
		return nil, err
	}
	if _, err := c.uploadMedia(ctx, file.RemoteID, file); err != nil {
		return nil, err
	}
	add, remove := parentsDiff(current.Parents, file.TargetFolder)
	return c.patchMetadata(ctx, file.RemoteID, &drive.File{Name: file.Title}, add, remove)
}

func (c *Client) uploadMedia(ctx context.Context, id string, file *models.File) (*drive.File, error) {
	header := http.Header{}
	header.Set("Content-Type", csvContentType)
	req := request{
		method: http.MethodPatch,
		url:    c.mediaURL(id),
		header: header,
		body:   fileBody(file.Pathname, 0, file.Size),
		retry:  true,
	}
	var out drive.File
	if _, err := c.call(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("upload %q: %w", file.Title, err)
	}
	return &out, nil
}

func (c *Client) patchMetadata(ctx context.Context, id string, meta *drive.File, add, remove []string) (*drive.File, error) {
	req, err := jsonRequest(http.MethodPatch, c.fileURL(id, parentParams(add, remove)), meta)
	if err != nil {
		return nil, err
	}
	var out drive.File
	if _, err := c.call(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("update metadata of %s: %w", id, err)
	}
	return &out, nil
}

func parentParams(add, remove []string) url.Values {
	params := url.Values{}
	if len(add) > 0 {
		params.Set("addParents", strings.Join(add, ","))
	}
	if len(remove) > 0 {
		params.Set("removeParents", strings.Join(remove, ","))
	}
	return params
}

// parentsDiff computes the parent changes that leave target as the only
// parent. An empty target leaves the parents untouched.
func parentsDiff(current []string, target string) (add, remove []string) {
	if target == "" {
		return nil, nil
	}
	found := false
	for _, parent := range current {
		if parent == target {
			found = true
			continue
		}
		remove = append(remove, parent)
	}
	if !found {
		add = []string{target}
	}
	return add, remove
}
