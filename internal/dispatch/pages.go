package dispatch

import (
    "bytes"
    "context"
    "fmt"
    "image"
    "image/jpeg"
    _ "image/png"
    "os"
    "path/filepath"
    "time"

    "github.com/gabriel-vasile/mimetype"
    "github.com/gen2brain/go-fitz"
    "github.com/pdfcpu/pdfcpu/pkg/api"
    "github.com/rs/zerolog/log"

    "github.com/local/ocrworker/internal/storage"
)

// Pages render at 300 DPI; the reconstruction pipeline assumes this and
// scales down to 96 DPI for display.
const (
    renderDPI     = 300
    renderQuality = 90
)

// ObjectStore is the slice of the S3 gateway the extractor needs.
type ObjectStore interface {
    Download(ctx context.Context, key, path string) error
    Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Extractor splits a source PDF into per-page JPEGs in the object store.
type Extractor struct {
    objects    ObjectStore
    scratchDir string
}

func NewExtractor(objects ObjectStore, scratchDir string) *Extractor {
    return &Extractor{objects: objects, scratchDir: scratchDir}
}

// PageCount returns the page count of a local PDF.
func PageCount(path string) (int, error) {
    n, err := api.PageCountFile(path)
    if err != nil { return 0, fmt.Errorf("pdf page count: %w", err) }
    return n, nil
}

// renderPage rasterizes one page of a local PDF as a JPEG.
func renderPage(doc *fitz.Document, page int) ([]byte, error) {
    // go-fitz pages are 0-based
    img, err := doc.ImageDPI(page-1, renderDPI)
    if err != nil { return nil, fmt.Errorf("render page %d: %w", page, err) }
    var buf bytes.Buffer
    if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: renderQuality}); err != nil {
        return nil, fmt.Errorf("encode page %d: %w", page, err)
    }
    return buf.Bytes(), nil
}

// Extract downloads the source file, turns it into per-page JPEGs and
// uploads them. PDFs rasterize page by page; a single image becomes a
// one-page task. Detection goes by magic bytes, never by the file name.
func (e *Extractor) Extract(ctx context.Context, userID, fileID, sourceKey string) ([]string, error) {
    localPath := filepath.Join(e.scratchDir, "dispatch", fileID+".src")
    if err := e.objects.Download(ctx, sourceKey, localPath); err != nil {
        return nil, fmt.Errorf("fetch source file: %w", err)
    }
    defer os.Remove(localPath)

    mtype, err := mimetype.DetectFile(localPath)
    if err != nil { return nil, fmt.Errorf("detect source file type: %w", err) }
    switch {
    case mtype.Is("application/pdf"):
        return e.extractPDF(ctx, userID, fileID, localPath)
    case mtype.Is("image/jpeg"), mtype.Is("image/png"):
        return e.extractImage(ctx, userID, fileID, localPath)
    }
    return nil, fmt.Errorf("unsupported source file type %s", mtype.String())
}

func (e *Extractor) extractPDF(ctx context.Context, userID, fileID, localPath string) ([]string, error) {
    total, err := PageCount(localPath)
    if err != nil { return nil, err }
    if total < 1 { return nil, fmt.Errorf("source file has no pages") }

    doc, err := fitz.New(localPath)
    if err != nil { return nil, fmt.Errorf("open source pdf: %w", err) }
    defer doc.Close()

    now := time.Now().UTC()
    keys := make([]string, 0, total)
    for page := 1; page <= total; page++ {
        data, err := renderPage(doc, page)
        if err != nil { return nil, err }
        key := storage.PageImageKey(userID, fileID, page, now)
        if err := e.objects.Put(ctx, key, data, "image/jpeg"); err != nil {
            return nil, fmt.Errorf("upload page %d image: %w", page, err)
        }
        keys = append(keys, key)
        log.Debug().Str("file_id", fileID).Int("page", page).Int("size", len(data)).Msg("page image uploaded")
    }
    log.Info().Str("file_id", fileID).Int("pages", total).Msg("source file rasterized")
    return keys, nil
}

// extractImage treats a standalone image as a one-page document,
// re-encoding to JPEG so every page image has the same shape downstream.
func (e *Extractor) extractImage(ctx context.Context, userID, fileID, localPath string) ([]string, error) {
    f, err := os.Open(localPath)
    if err != nil { return nil, fmt.Errorf("open source image: %w", err) }
    defer f.Close()
    img, _, err := image.Decode(f)
    if err != nil { return nil, fmt.Errorf("decode source image: %w", err) }

    var buf bytes.Buffer
    if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: renderQuality}); err != nil {
        return nil, fmt.Errorf("encode source image: %w", err)
    }

    key := storage.PageImageKey(userID, fileID, 1, time.Now().UTC())
    if err := e.objects.Put(ctx, key, buf.Bytes(), "image/jpeg"); err != nil {
        return nil, fmt.Errorf("upload page image: %w", err)
    }
    log.Info().Str("file_id", fileID).Msg("single image source uploaded as one page")
    return []string{key}, nil
}
