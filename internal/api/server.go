package api

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bolt-vision/internal/domain/entity"
)

const maxUploadBytes = 20 << 20

// FramePusher устройство, принимающее снимки снаружи.
type FramePusher interface {
	Push(img image.Image)
}

// HistoryLister история проверок.
type HistoryLister interface {
	List(ctx context.Context, vin string, limit int) ([]entity.Inspection, error)
}

// Server HTTP-интерфейс станции: табло по websocket, загрузка кадров,
// история проверок.
type Server struct {
	addr    string
	hub     *Hub
	pusher  FramePusher
	history HistoryLister
	logger  *zap.SugaredLogger
}

// NewServer pusher и history могут быть nil, тогда соответствующие
// маршруты отвечают 503.
func NewServer(addr string, hub *Hub, pusher FramePusher, history HistoryLister, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{addr: addr, hub: hub, pusher: pusher, history: history, logger: logger}
}

// Handler маршруты сервера.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.hub)
	mux.HandleFunc("/frames", s.handleFrame)
	mux.HandleFunc("/inspections", s.handleHistory)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Run слушает addr до отмены ctx.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("http server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	return nil
}

// handleFrame принимает снимок (JPEG/PNG) для камеры без драйвера.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.pusher == nil {
		http.Error(w, "station camera does not accept uploads", http.StatusServiceUnavailable)
		return
	}

	img, err := imaging.Decode(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		http.Error(w, "cannot decode image: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.pusher.Push(img)
	s.logger.Debugw("frame uploaded", "width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		http.Error(w, "history is not configured", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	list, err := s.history.List(r.Context(), r.URL.Query().Get("vin"), limit)
	if err != nil {
		s.logger.Warnw("history query failed", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	views := make([]InspectionView, 0, len(list))
	for i := range list {
		views = append(views, NewInspectionView(&list[i]))
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		s.logger.Warnw("history encode failed", "error", err)
	}
}
