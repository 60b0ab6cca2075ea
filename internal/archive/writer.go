package archive

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"gocloud.dev/blob"

	"github.com/kode4food/conduit/pkg/api"
)

type (
	// Writer serializes archived runs into a bucket
	Writer struct {
		bucket BucketWriter
		prefix string
	}

	// BucketWriter is the subset of *blob.Bucket used by Writer
	BucketWriter interface {
		WriteAll(context.Context, string, []byte, *blob.WriterOptions) error
	}

	// Record is the archived form of a run
	Record struct {
		Run   *api.FlowRunTrace `json:"run"`
		Steps []*api.StepTrace  `json:"steps"`
	}
)

const contentType = "application/json"

var (
	ErrBucketRequired = errors.New("bucket is required")
	ErrRecordRequired = errors.New("archive record is required")
)

// NewWriter creates a Writer that stores records under prefix
func NewWriter(bucket BucketWriter, prefix string) (*Writer, error) {
	if bucket == nil {
		return nil, ErrBucketRequired
	}
	return &Writer{
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Write stores rec as JSON at the key derived from its run ID
func (w *Writer) Write(ctx context.Context, rec *Record) error {
	if rec == nil || rec.Run == nil {
		return ErrRecordRequired
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return w.bucket.WriteAll(ctx, w.Key(rec.Run.ID), data,
		&blob.WriterOptions{ContentType: contentType},
	)
}

// Key returns the object key used for the run with the given ID
func (w *Writer) Key(id api.RunID) string {
	return buildArchiveKey(w.prefix, id)
}

func buildArchiveKey(prefix string, id api.RunID) string {
	if prefix == "" {
		return string(id) + ".json"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + string(id) + ".json"
}
