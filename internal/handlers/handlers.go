package handlers

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nfnt/resize"
	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/slim-eval/internal/display"
)

const maxThumbnail = 1024

type Handler struct {
	dir        string
	checkpoint string
}

func NewHandler(dir, checkpoint string) *Handler {
	return &Handler{
		dir:        dir,
		checkpoint: checkpoint,
	}
}

// Routes registers the gallery endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", EnableCORS(h.Health))
	mux.HandleFunc("/predictions", EnableCORS(h.Predictions))
	mux.HandleFunc("/predictions/", EnableCORS(h.Figure))
}

func EnableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "checkpoint": h.checkpoint})
}

type predictionsResponse struct {
	Checkpoint  string               `json:"checkpoint"`
	Correct     int                  `json:"correct"`
	Total       int                  `json:"total"`
	Predictions []display.Prediction `json:"predictions"`
}

func (h *Handler) Predictions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	preds, err := display.ReadManifest(h.dir)
	if err != nil {
		log.WithError(err).Warn("predictions manifest unavailable")
		http.Error(w, "No predictions rendered yet", http.StatusNotFound)
		return
	}

	resp := predictionsResponse{Checkpoint: h.checkpoint, Total: len(preds), Predictions: preds}
	for _, p := range preds {
		if p.Correct() {
			resp.Correct++
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Figure serves /predictions/{index}.png. An optional size query parameter
// returns a square thumbnail.
func (h *Handler) Figure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/predictions/")
	index, err := strconv.Atoi(strings.TrimSuffix(name, ".png"))
	if err != nil || !strings.HasSuffix(name, ".png") {
		http.Error(w, "Expected /predictions/{index}.png", http.StatusBadRequest)
		return
	}

	preds, err := display.ReadManifest(h.dir)
	if err != nil {
		http.Error(w, "No predictions rendered yet", http.StatusNotFound)
		return
	}
	if index < 0 || index >= len(preds) {
		http.Error(w, fmt.Sprintf("Prediction %d not found, have %d", index, len(preds)), http.StatusNotFound)
		return
	}

	f, err := os.Open(filepath.Join(h.dir, filepath.Base(preds[index].File)))
	if err != nil {
		log.WithError(err).Error("open figure")
		http.Error(w, "Figure missing", http.StatusNotFound)
		return
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		log.WithError(err).Error("decode figure")
		http.Error(w, "Failed to decode figure", http.StatusInternalServerError)
		return
	}

	if s := r.URL.Query().Get("size"); s != "" {
		size, err := strconv.Atoi(s)
		if err != nil || size <= 0 || size > maxThumbnail {
			http.Error(w, fmt.Sprintf("size must be in [1, %d]", maxThumbnail), http.StatusBadRequest)
			return
		}
		img = resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
	}

	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		log.WithError(err).Error("encode figure")
	}
}
