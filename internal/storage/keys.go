package storage

import (
    "fmt"
    "time"
)

// Key shapes are stable contracts with the upload backend and the result
// viewers; changing them orphans existing objects.

// UploadKey addresses a user-submitted source file.
func UploadKey(userID, fileID, name string, t time.Time) string {
    return fmt.Sprintf("uploads/%s/%s/%s/%s", userID, t.UTC().Format("2006-01"), fileID, name)
}

// PageImageKey addresses one rasterized page of a source file.
func PageImageKey(userID, fileID string, page int, t time.Time) string {
    return fmt.Sprintf("uploads/%s/%s/%s/page_%d.jpg", userID, t.UTC().Format("2006-01"), fileID, page)
}

// ResultKey addresses one per-page artifact. The label names the artifact
// kind (html, txt, kvp, anon, anon_mapping, anon_audit, ...); the timestamp
// keeps redelivered units from overwriting earlier results.
func ResultKey(userID, taskID string, page int, label, ext string, t time.Time) string {
    return fmt.Sprintf("results/%s/%s/%s/page_%d_%s_%d.%s",
        userID, t.UTC().Format("2006-01"), taskID, page, label, t.UTC().Unix(), ext)
}
