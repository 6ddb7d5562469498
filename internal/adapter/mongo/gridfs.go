package mongo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/couchcryptid/civicfix-service/internal/domain"
)

const assetBucket = "assets"

type assetMeta struct {
	ContentType string `bson:"contentType"`
}

// GridFSAssets stores attachments in a GridFS bucket. Refs are file ids.
type GridFSAssets struct {
	bucket  *gridfs.Bucket
	baseURL string
}

// NewGridFSAssets opens the assets bucket in db.
func NewGridFSAssets(db *mongo.Database, baseURL string) (*GridFSAssets, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(assetBucket))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket: %w", err)
	}
	return &GridFSAssets{bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload stores a under filename key.
func (g *GridFSAssets) Upload(ctx context.Context, key string, a domain.Attachment) (domain.StoredAsset, error) {
	if err := ctx.Err(); err != nil {
		return domain.StoredAsset{}, err
	}
	opts := options.GridFSUpload().SetMetadata(assetMeta{ContentType: a.ContentType})
	id, err := g.bucket.UploadFromStream(key, bytes.NewReader(a.Data), opts)
	if err != nil {
		return domain.StoredAsset{}, fmt.Errorf("upload gridfs asset: %w", err)
	}
	ref := id.Hex()
	return domain.StoredAsset{Ref: ref, URL: g.baseURL + "/" + ref}, nil
}

// Delete removes the file with id ref. Unknown ids are ignored.
func (g *GridFSAssets) Delete(_ context.Context, ref string) error {
	oid, err := primitive.ObjectIDFromHex(ref)
	if err != nil {
		return nil
	}
	if err := g.bucket.Delete(oid); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
		return fmt.Errorf("delete gridfs asset: %w", err)
	}
	return nil
}

// Open streams the file with id ref.
func (g *GridFSAssets) Open(_ context.Context, ref string) (io.ReadCloser, string, error) {
	oid, err := primitive.ObjectIDFromHex(ref)
	if err != nil {
		return nil, "", domain.ErrNotFound
	}
	stream, err := g.bucket.OpenDownloadStream(oid)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, "", domain.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("open gridfs asset: %w", err)
	}

	contentType := "application/octet-stream"
	if file := stream.GetFile(); file != nil && len(file.Metadata) > 0 {
		var meta assetMeta
		if err := bson.Unmarshal(file.Metadata, &meta); err == nil && meta.ContentType != "" {
			contentType = meta.ContentType
		}
	}
	return stream, contentType, nil
}
