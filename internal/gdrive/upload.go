package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"

	"github.com/chmdznr/table-to-drive-writer/pkg/models"
)

// StatusResumeIncomplete is returned by an upload session that has not
// received every byte yet.
const StatusResumeIncomplete = http.StatusPermanentRedirect

// ProgressFunc receives the number of payload bytes just sent.
type ProgressFunc func(n int64)

type progressKey struct{}

// WithProgress attaches fn to ctx; uploads made with the returned context
// report the bytes they send.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func progressFrom(ctx context.Context) ProgressFunc {
	fn, _ := ctx.Value(progressKey{}).(ProgressFunc)
	return fn
}

type progressReader struct {
	r  io.Reader
	fn ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.fn(int64(n))
	}
	return n, err
}

type fileReadCloser struct {
	io.Reader
	f *os.File
}

func (r fileReadCloser) Close() error { return r.f.Close() }

// fileBody opens path on every call so a request can be replayed.
func fileBody(path string, offset, total int64) bodyFunc {
	return func(ctx context.Context) (io.ReadCloser, int64, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, 0, err
		}
		if offset > 0 {
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				_ = f.Close()
				return nil, 0, fmt.Errorf("seek %s to %d: %w", path, offset, err)
			}
		}
		n := total - offset
		if n < 0 {
			n = 0
		}
		var r io.Reader = io.LimitReader(f, n)
		if fn := progressFrom(ctx); fn != nil {
			r = &progressReader{r: r, fn: fn}
		}
		return fileReadCloser{Reader: r, f: f}, n, nil
	}
}

func sessionHeader(file *models.File) http.Header {
	header := http.Header{}
	header.Set("X-Upload-Content-Type", csvContentType)
	header.Set("X-Upload-Content-Length", strconv.FormatInt(file.Size, 10))
	return header
}

func (c *Client) insertResumable(ctx context.Context, file *models.File) (*drive.File, error) {
	meta := newMetadata(file, c.title(file))
	if file.TargetFolder != "" {
		meta.Parents = []string{file.TargetFolder}
	}
	params := url.Values{}
	params.Set("uploadType", "resumable")
	params.Set("fields", fileFields)

	session, err := c.startSession(ctx, http.MethodPost, c.uploadURL+"?"+params.Encode(), meta, file)
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", file.Title, err)
	}
	return c.putFile(ctx, file, session)
}

func (c *Client) updateResumable(ctx context.Context, file *models.File) (*drive.File, error) {
	current, err := c.GetFile(ctx, file.RemoteID)
	if err != nil {
		return nil, err
	}
	add, remove := parentsDiff(current.Parents, file.TargetFolder)
	params := parentParams(add, remove)
	params.Set("uploadType", "resumable")
	params.Set("fields", fileFields)

	target := c.uploadURL + "/" + url.PathEscape(file.RemoteID) + "?" + params.Encode()
	session, err := c.startSession(ctx, http.MethodPatch, target, &drive.File{Name: file.Title}, file)
	if err != nil {
		return nil, fmt.Errorf("update %q: %w", file.Title, err)
	}
	return c.putFile(ctx, file, session)
}

func (c *Client) startSession(ctx context.Context, method, target string, meta *drive.File, file *models.File) (string, error) {
	req, err := jsonRequest(method, target, meta)
	if err != nil {
		return "", err
	}
	for key, values := range sessionHeader(file) {
		req.header[key] = values
	}
	resp, err := c.call(ctx, req, nil)
	if err != nil {
		return "", err
	}
	session := resp.Header.Get("Location")
	if session == "" {
		return "", errors.New("upload session response has no Location header")
	}
	return session, nil
}

// putFile streams the payload to an upload session. An interrupted or
// rejected upload is probed and resumed from the byte the service reports,
// up to resumeAttempts times with exponential backoff.
func (c *Client) putFile(ctx context.Context, file *models.File, session string) (*drive.File, error) {
	total := file.Size
	header := http.Header{}
	header.Set("Content-Type", csvContentType)
	req := request{method: http.MethodPut, url: session, header: header, body: fileBody(file.Pathname, 0, total)}

	resp, err := c.do(ctx, req)
	if err == nil && resp.ok() {
		return decodeFile(resp)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		c.logger.Warn("upload interrupted, probing session", "file", file.ID, "error", err)
	} else {
		c.logger.Warn("upload rejected, probing session", "file", file.ID, "status", resp.StatusCode)
	}

	resp, err = c.probe(ctx, session)
	if err != nil {
		return nil, err
	}

	for attempt := 0; resp.StatusCode == StatusResumeIncomplete && attempt < c.resumeAttempts; attempt++ {
		offset, err := nextOffset(resp.Header.Get("Range"))
		if err != nil {
			return nil, err
		}
		c.logger.Info("resuming upload", "file", file.ID, "offset", offset, "total", total, "attempt", attempt+1)

		resp, err = c.do(ctx, resumeRequest(session, file.Pathname, offset, total))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if resp, err = c.probe(ctx, session); err != nil {
				return nil, err
			}
		}
		if resp.ok() {
			break
		}
		if err := c.sleep(ctx, c.resumeDelay(attempt)); err != nil {
			return nil, err
		}
	}

	if !resp.ok() {
		return nil, resp.err(request{method: http.MethodPut, url: session})
	}
	return decodeFile(resp)
}

func (c *Client) probe(ctx context.Context, session string) (*response, error) {
	header := http.Header{}
	header.Set("Content-Range", "bytes */*")
	return c.do(ctx, request{method: http.MethodPut, url: session, header: header})
}

func resumeRequest(session, path string, offset, total int64) request {
	header := http.Header{}
	header.Set("Content-Type", csvContentType)
	if offset >= total {
		header.Set("Content-Range", fmt.Sprintf("bytes */%d", total))
		return request{method: http.MethodPut, url: session, header: header}
	}
	header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, total-1, total))
	return request{method: http.MethodPut, url: session, header: header, body: fileBody(path, offset, total)}
}

func (c *Client) resumeDelay(attempt int) time.Duration {
	delay := c.backoffUnit
	for i := 0; i < attempt; i++ {
		delay *= time.Duration(c.backoffBase)
	}
	return delay
}

// nextOffset returns the first byte the session still needs, given a
// Range header of the form "bytes=0-N". No header means nothing was stored.
func nextOffset(rangeHeader string) (int64, error) {
	rangeHeader = strings.TrimSpace(rangeHeader)
	if rangeHeader == "" {
		return 0, nil
	}
	span := strings.TrimPrefix(rangeHeader, "bytes=")
	_, last, ok := strings.Cut(span, "-")
	if !ok {
		return 0, fmt.Errorf("malformed Range header %q", rangeHeader)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(last), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed Range header %q: %w", rangeHeader, err)
	}
	return n + 1, nil
}

func decodeFile(resp *response) (*drive.File, error) {
	var out drive.File
	if len(resp.Body) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &out, nil
}
