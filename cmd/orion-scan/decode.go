package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/e7canasta/orion-scan/internal/config"
	"github.com/e7canasta/orion-scan/internal/log"
	"github.com/e7canasta/orion-scan/modules/camera/synthetic"
	"github.com/e7canasta/orion-scan/modules/framescanner"
	"github.com/e7canasta/orion-scan/modules/scancontrol"
	"github.com/e7canasta/orion-scan/modules/upload"
)

// runDecode runs every file through the upload path. It fails if any file
// did not resolve; user-facing messages go to errOut.
func runDecode(ctx context.Context, opts Options, cfg *config.Config, out, errOut io.Writer) error {
	logger := log.WithComponent("decode")

	// The camera is never started in this mode.
	p, err := newPipeline(cfg, synthetic.New(), framescanner.NewManualScheduler(time.Now()), nil)
	if err != nil {
		return err
	}
	defer p.close()

	if err := p.startSubscribers(ctx, cfg, out); err != nil {
		return err
	}

	failed := 0
	for _, path := range opts.Files {
		blob, err := readBlob(path, cfg.Upload.MaxBytes)
		if err == nil {
			_, err = p.ctrl.HandleUpload(ctx, blob)
		}
		if err != nil {
			failed++
			logger.Debug().Err(err).Str("file", path).Msg("decode failed")
			fmt.Fprintf(errOut, "%s: %s\n", path, scancontrol.UserMessage(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be decoded", failed, len(opts.Files))
	}
	return nil
}

// readBlob loads path as an upload. The content type comes from the
// extension, falling back to sniffing.
func readBlob(path string, maxBytes int64) (upload.Blob, error) {
	f, err := os.Open(path)
	if err != nil {
		return upload.Blob{}, fmt.Errorf("%w: %v", upload.ErrImageLoadFailed, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return upload.Blob{}, fmt.Errorf("%w: %v", upload.ErrImageLoadFailed, err)
	}
	if int64(len(data)) > maxBytes {
		return upload.Blob{}, fmt.Errorf("%w: larger than %d bytes", upload.ErrImageLoadFailed, maxBytes)
	}

	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return upload.Blob{Name: filepath.Base(path), ContentType: ct, Data: data}, nil
}
