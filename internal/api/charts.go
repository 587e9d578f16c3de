package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/chart"
	"github.com/askdb/askdb/internal/storage"
)

func handleChart(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	name := r.PathValue("name")
	if !chart.ValidFileName(name) {
		writeError(r.Context(), w, http.StatusNotFound, "CHART_NOT_FOUND", "chart was not found", false, nil)
		return
	}

	if deps.ChartDir != "" {
		file, err := os.Open(filepath.Join(deps.ChartDir, name))
		if err == nil {
			defer file.Close()
			info, err := file.Stat()
			if err == nil {
				w.Header().Set("Content-Type", "image/png")
				http.ServeContent(w, r, name, info.ModTime(), file)
				return
			}
		}
	}

	if deps.ChartStore != nil {
		day, _ := chart.FileNameDate(name)
		key, err := storage.BuildChartObjectKey(name, day)
		if err == nil {
			body, err := deps.ChartStore.Get(r.Context(), key)
			switch {
			case err == nil:
				defer body.Close()
				w.Header().Set("Content-Type", "image/png")
				w.Header().Set("Cache-Control", storage.ImmutableCacheControl)
				w.WriteHeader(http.StatusOK)
				_, _ = io.Copy(w, body)
				return
			case !errors.Is(err, storage.ErrObjectNotFound):
				writeError(r.Context(), w, http.StatusBadGateway, "OBJECT_STORE_ERROR", "failed to read chart from object store", true, nil)
				return
			}
		}
	}
	writeError(r.Context(), w, http.StatusNotFound, "CHART_NOT_FOUND", "chart was not found", false, nil)
}
