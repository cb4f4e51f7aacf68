package rpc

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tandem-dev/tandem/internal/apperror"
	"github.com/tandem-dev/tandem/internal/storage"
	"github.com/tandem-dev/tandem/pkg/types"
)

const maxInlineFileBytes = 5 << 20 // 5 MiB, matches the inline-attachment cap used elsewhere

// registerFileProcedures adds the file.* group. file.upload feeds the
// object store (SHA-256 deduplicated); file.download and file.getMetadata
// accept either a stored file id or a workspace-relative path.
func registerFileProcedures(c *Catalog) {
	c.Register(&Procedure{
		Path: "file.download",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				FileID string `json:"fileId"`
				Path   string `json:"path"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			if in.FileID != "" {
				var sf types.StoredFile
				if err := rc.Storage.Get(ctx, []string{"filecontent", in.FileID}, &sf); err != nil {
					return nil, apperror.NotFound("file %q not found", in.FileID)
				}
				return sf, nil
			}
			path := resolvePath(rc, in.Path)
			info, err := os.Stat(path)
			if err != nil {
				return nil, apperror.NotFound("file %q not found", in.Path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "read file", err)
			}
			mediaType := mime.TypeByExtension(filepath.Ext(path))
			if mediaType == "" {
				mediaType = "application/octet-stream"
			}
			truncated := false
			if int64(len(data)) > maxInlineFileBytes {
				data = data[:maxInlineFileBytes]
				truncated = true
			}
			fc := types.FileContent{
				Path:      in.Path,
				MediaType: mediaType,
				SizeBytes: info.Size(),
				Truncated: truncated,
			}
			if strings.HasPrefix(mediaType, "text/") || isProbablyText(data) {
				fc.Text = string(data)
			} else {
				fc.DataURL = "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
			}
			return fc, nil
		},
	})

	c.Register(&Procedure{
		Path: "file.upload",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				Path      string `json:"path"`
				SessionID string `json:"sessionID,omitempty"`
				MediaType string `json:"mediaType,omitempty"`
				Text      string `json:"text,omitempty"`
				Base64    string `json:"base64,omitempty"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			if in.Path == "" {
				return nil, apperror.Validation("path is required")
			}

			var data []byte
			if in.Base64 != "" {
				decoded, err := base64.StdEncoding.DecodeString(in.Base64)
				if err != nil {
					return nil, apperror.Validation("base64 content is malformed")
				}
				data = decoded
			} else {
				data = []byte(in.Text)
			}
			if len(data) == 0 {
				return nil, apperror.Validation("either text or base64 content is required")
			}

			sum := sha256.Sum256(data)
			shaHex := hex.EncodeToString(sum[:])

			// Dedup: identical bytes resolve to the existing record.
			var existing struct {
				FileID string `json:"fileId"`
			}
			if err := rc.Storage.Get(ctx, []string{"filecontent-sha", shaHex}, &existing); err == nil && existing.FileID != "" {
				return map[string]any{"fileId": existing.FileID, "sha256": shaHex, "url": storedFileURL(existing.FileID), "deduplicated": true}, nil
			} else if err != nil && err != storage.ErrNotFound {
				return nil, apperror.Wrap(apperror.KindStorage, "check dedup index", err)
			}

			mediaType := in.MediaType
			if mediaType == "" {
				mediaType = mime.TypeByExtension(filepath.Ext(in.Path))
			}
			if mediaType == "" {
				mediaType = "application/octet-stream"
			}

			sf := types.StoredFile{
				ID:        ulid.Make().String(),
				SessionID: in.SessionID,
				Path:      in.Path,
				MediaType: mediaType,
				SizeBytes: int64(len(data)),
				SHA256:    shaHex,
				Data:      base64.StdEncoding.EncodeToString(data),
				CreatedAt: time.Now().UnixMilli(),
			}
			if isProbablyText(data) {
				sf.TextData = string(data)
			}
			if err := rc.Storage.Put(ctx, []string{"filecontent", sf.ID}, &sf); err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "store file", err)
			}
			if err := rc.Storage.Put(ctx, []string{"filecontent-sha", shaHex}, map[string]string{"fileId": sf.ID}); err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "store dedup index", err)
			}
			return map[string]any{"fileId": sf.ID, "sha256": shaHex, "url": storedFileURL(sf.ID)}, nil
		},
	})

	c.Register(&Procedure{
		Path: "file.getMetadata",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				FileID string `json:"fileId"`
				Path   string `json:"path"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			if in.FileID != "" {
				var sf types.StoredFile
				if err := rc.Storage.Get(ctx, []string{"filecontent", in.FileID}, &sf); err != nil {
					return nil, apperror.NotFound("file %q not found", in.FileID)
				}
				return map[string]any{
					"fileId":    sf.ID,
					"path":      sf.Path,
					"mediaType": sf.MediaType,
					"sizeBytes": sf.SizeBytes,
					"sha256":    sf.SHA256,
					"createdAt": sf.CreatedAt,
				}, nil
			}
			path := resolvePath(rc, in.Path)
			info, err := os.Stat(path)
			if err != nil {
				return nil, apperror.NotFound("file %q not found", in.Path)
			}
			return map[string]any{
				"path":        in.Path,
				"sizeBytes":   info.Size(),
				"isDirectory": info.IsDir(),
				"modifiedAt":  info.ModTime().UnixMilli(),
			}, nil
		},
	})
}

// storedFileURL is the canonical fetch location for an object-store record.
func storedFileURL(id string) string {
	return "/rpc?path=file.download&fileId=" + id
}

func resolvePath(rc *Context, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rc.Directory, path)
}

func isProbablyText(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return true
}
