// Package statichandler implements the Static File Handler from spec
// §4.F: path resolution under a document root, GET/HEAD/DELETE serving,
// and directory default-index/autoindex/403 logic.
//
// The teacher's filetransport/ package defines the shape this is grounded
// on (a Dir/FileSystem abstraction with ServeHTTP-style dispatch), but its
// serveFile/serveContent method bodies were not present in the retrieval
// pack (see DESIGN.md) -- the path-resolution and streaming logic below is
// original, built on os.Open/os.Stat and internal/respbuild.FileBody.
package statichandler

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/nolenjoy/forgeserve/internal/config"
	"github.com/nolenjoy/forgeserve/internal/hdr"
	"github.com/nolenjoy/forgeserve/internal/httperror"
	"github.com/nolenjoy/forgeserve/internal/mimetypes"
	"github.com/nolenjoy/forgeserve/internal/respbuild"
)

// Result is what the static handler hands back to the router/connection
// state machine: either a ready-to-drain Response or a typed error.
type Result struct {
	Response *respbuild.Response
	Err      *httperror.Status
}

// Resolve joins root and the decoded request path, then verifies the
// result stays within root, per spec §4.F ("canonicalise; if the result
// is not a descendant of the root → 403").
func Resolve(root, decodedPath string) (string, *httperror.Status) {
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", httperror.ErrInternal()
	}
	joined := filepath.Join(cleanRoot, filepath.FromSlash(decodedPath))
	rel, err := filepath.Rel(cleanRoot, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", httperror.ErrForbidden()
	}
	return joined, nil
}

// ServeGet handles GET and HEAD, per spec §4.F's regular-file and
// directory branches.
func ServeGet(loc *config.Location, fullPath, requestPath, method string) Result {
	info, err := os.Stat(fullPath)
	if os.IsNotExist(err) {
		return Result{Err: httperror.ErrNotFound()}
	}
	if os.IsPermission(err) {
		return Result{Err: httperror.ErrForbidden()}
	}
	if err != nil {
		return Result{Err: httperror.ErrInternal()}
	}

	if info.IsDir() {
		return serveDirectory(loc, fullPath, requestPath, method)
	}
	return serveFile(fullPath, info.Size(), method)
}

func serveFile(fullPath string, size int64, method string) Result {
	f, err := os.Open(fullPath)
	if os.IsPermission(err) {
		return Result{Err: httperror.ErrForbidden()}
	}
	if err != nil {
		return Result{Err: httperror.ErrInternal()}
	}
	h := hdr.Header{}
	h.Set(hdr.ContentType, mimetypes.ByExtension(fullPath))
	noBody := method == "HEAD"
	if noBody {
		f.Close()
		return Result{Response: &respbuild.Response{
			Status: 200, Header: h, Body: respbuild.NewMemoryBody(nil), NoBody: true,
		}}
	}
	return Result{Response: &respbuild.Response{
		Status: 200,
		Header: h,
		Body:   respbuild.NewFileBody(f, size),
	}}
}

func serveDirectory(loc *config.Location, fullPath, requestPath, method string) Result {
	if loc.Index != "" {
		indexPath := filepath.Join(fullPath, loc.Index)
		info, err := os.Stat(indexPath)
		if err == nil && !info.IsDir() {
			return serveFile(indexPath, info.Size(), method)
		}
	}
	if loc.Autoindex {
		entries, err := os.ReadDir(fullPath)
		if err != nil {
			return Result{Err: httperror.ErrForbidden()}
		}
		var rows []mimetypes.DirEntry
		for _, e := range entries {
			info, err := e.Info()
			size := int64(0)
			if err == nil {
				size = info.Size()
			}
			rows = append(rows, mimetypes.DirEntry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
		}
		body := mimetypes.RenderListing(requestPath, rows)
		h := hdr.Header{}
		h.Set(hdr.ContentType, "text/html; charset=utf-8")
		return Result{Response: &respbuild.Response{
			Status: 200, Header: h, Body: respbuild.NewMemoryBody(body), NoBody: method == "HEAD",
		}}
	}
	return Result{Err: httperror.ErrForbidden()}
}

// ServeDelete unlinks a regular file under fullPath, per spec §4.F's
// DELETE branch: directories and missing files are rejected, not removed.
func ServeDelete(fullPath string) Result {
	info, err := os.Stat(fullPath)
	if os.IsNotExist(err) {
		return Result{Err: httperror.ErrNotFound()}
	}
	if err != nil {
		return Result{Err: httperror.ErrInternal()}
	}
	if info.IsDir() {
		return Result{Err: httperror.ErrForbidden()}
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsPermission(err) {
			return Result{Err: httperror.ErrForbidden()}
		}
		return Result{Err: httperror.ErrInternal()}
	}
	h := hdr.Header{}
	return Result{Response: &respbuild.Response{
		Status: 204, Header: h, Body: respbuild.NewMemoryBody(nil), NoBody: true,
	}}
}
