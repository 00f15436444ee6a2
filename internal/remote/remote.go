// Package remote exposes playback control over HTTP.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/cbegin/stepcue"
	"github.com/cbegin/stepcue/internal/engine"
	"github.com/cbegin/stepcue/internal/voicebank"
)

// Controller is the playback surface served over HTTP.
type Controller interface {
	Play(ctx context.Context) error
	Pause() error
	Resume() error
	Stop() error
	JumpToStep(n int) error
	SetTempo(bpm float64) error
	SetLooping(looping bool) error
	SetRange(start, end int) error
	RestoreFullRange() error
	Status() stepcue.Status
	Steps() []stepcue.StepInfo
	Voices() []stepcue.Voice
	SetInstrument(ctx context.Context, voiceID, instrument string) error
	SetVoiceVolume(voiceID string, gain float64) error
	SetOctaveShift(voiceID string, shift int) error
}

type server struct {
	c   Controller
	log *slog.Logger
}

// NewHandler returns the HTTP API for c. Cross-origin requests are allowed
// from allowedOrigins, or from anywhere when it is empty.
func NewHandler(c Controller, allowedOrigins []string, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	s := &server{c: c, log: log}
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/steps", s.handleSteps).Methods(http.MethodGet)
	router.HandleFunc("/voices", s.handleVoices).Methods(http.MethodGet)
	router.HandleFunc("/voices/{id}", s.handleVoice).Methods(http.MethodPut)
	router.HandleFunc("/play", s.action(func(r *http.Request) error { return c.Play(r.Context()) })).Methods(http.MethodPost)
	router.HandleFunc("/pause", s.action(func(*http.Request) error { return c.Pause() })).Methods(http.MethodPost)
	router.HandleFunc("/resume", s.action(func(*http.Request) error { return c.Resume() })).Methods(http.MethodPost)
	router.HandleFunc("/stop", s.action(func(*http.Request) error { return c.Stop() })).Methods(http.MethodPost)
	router.HandleFunc("/jump/{step:[0-9]+}", s.action(s.jump)).Methods(http.MethodPost)
	router.HandleFunc("/tempo", s.action(s.tempo)).Methods(http.MethodPut)
	router.HandleFunc("/looping", s.action(s.looping)).Methods(http.MethodPut)
	router.HandleFunc("/range", s.action(s.setRange)).Methods(http.MethodPut)
	router.HandleFunc("/range", s.action(func(*http.Request) error { return c.RestoreFullRange() })).Methods(http.MethodDelete)

	opts := cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return cors.New(opts).Handler(router)
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("remote control listening", "addr", addr)
	select {
	case err := <-errCh:
		return fmt.Errorf("remote: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("remote: shutdown: %w", err)
		}
		return nil
	}
}

type tempoRequest struct {
	BPM float64 `json:"bpm"`
}

type loopingRequest struct {
	Looping bool `json:"looping"`
}

type rangeRequest struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type voiceRequest struct {
	Instrument  *string  `json:"instrument,omitempty"`
	Volume      *float64 `json:"volume,omitempty"`
	OctaveShift *int     `json:"octaveShift,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

var errBadRequest = errors.New("bad request")

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.c.Status())
}

func (s *server) handleSteps(w http.ResponseWriter, r *http.Request) {
	steps := s.c.Steps()
	if steps == nil {
		steps = []stepcue.StepInfo{}
	}
	s.writeJSON(w, http.StatusOK, steps)
}

func (s *server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices := s.c.Voices()
	if voices == nil {
		voices = []stepcue.Voice{}
	}
	s.writeJSON(w, http.StatusOK, voices)
}

func (s *server) handleVoice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req voiceRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Instrument != nil {
		if err := s.c.SetInstrument(r.Context(), id, *req.Instrument); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if req.Volume != nil {
		if err := s.c.SetVoiceVolume(id, *req.Volume); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if req.OctaveShift != nil {
		if err := s.c.SetOctaveShift(id, *req.OctaveShift); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.handleVoices(w, r)
}

// action runs f and answers with the resulting status.
func (s *server) action(f func(*http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := f(r); err != nil {
			s.writeError(w, err)
			return
		}
		s.handleStatus(w, r)
	}
}

func (s *server) jump(r *http.Request) error {
	n, err := strconv.Atoi(mux.Vars(r)["step"])
	if err != nil {
		return fmt.Errorf("%w: step: %v", errBadRequest, err)
	}
	return s.c.JumpToStep(n)
}

func (s *server) tempo(r *http.Request) error {
	var req tempoRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	return s.c.SetTempo(req.BPM)
}

func (s *server) looping(r *http.Request) error {
	var req loopingRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	return s.c.SetLooping(req.Looping)
}

func (s *server) setRange(r *http.Request) error {
	var req rangeRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	return s.c.SetRange(req.Start, req.End)
}

func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, engine.ErrInvalidTempo):
		return http.StatusBadRequest
	case errors.Is(err, voicebank.ErrUnknownVoice):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNoScore):
		return http.StatusConflict
	case errors.Is(err, stepcue.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Warn("remote request failed", "err", err)
	}
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("remote write failed", "err", err)
	}
}
