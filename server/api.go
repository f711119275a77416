package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/room4-2/GramHealth/gemini"
)

const maxPhotoBytes = 10 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleAnalyzePhoto(w http.ResponseWriter, r *http.Request) {
	if s.opts.Photo == nil {
		writeError(w, http.StatusServiceUnavailable, "photo analysis is not available offline")
		return
	}

	var req gemini.PhotoRequest
	if err := decodeBody(w, r, maxPhotoBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Subject == "" {
		req.Subject = gemini.SubjectHuman
	}
	if req.Subject != gemini.SubjectHuman && req.Subject != gemini.SubjectLivestock {
		writeError(w, http.StatusBadRequest, "type must be human or livestock")
		return
	}

	analysis, err := s.opts.Photo.Analyze(r.Context(), req)
	switch {
	case errors.Is(err, gemini.ErrNoImage), errors.Is(err, gemini.ErrInvalidImage):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("photo analysis failed")
		writeError(w, http.StatusInternalServerError, "failed to analyze image")
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req gemini.TranslateRequest
	if err := decodeBody(w, r, 1<<20, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	translations := req.Texts
	if s.opts.Translator != nil {
		var err error
		if translations, err = s.opts.Translator.Translate(r.Context(), req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"translations": translations})
}

type languagePreference struct {
	Client   string `json:"client"`
	Language string `json:"language"`
}

func (s *Server) handleGetLanguage(w http.ResponseWriter, r *http.Request) {
	if s.opts.Preferences == nil {
		writeError(w, http.StatusServiceUnavailable, "preferences are disabled")
		return
	}
	client := strings.TrimSpace(r.URL.Query().Get("client"))
	if client == "" {
		writeError(w, http.StatusBadRequest, "missing client")
		return
	}
	lang, err := s.opts.Preferences.Language(r.Context(), client)
	if err != nil {
		s.logger.Error().Err(err).Str("client", client).Msg("failed to read language")
		writeError(w, http.StatusInternalServerError, "failed to read preference")
		return
	}
	writeJSON(w, http.StatusOK, languagePreference{Client: client, Language: lang})
}

func (s *Server) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	if s.opts.Preferences == nil {
		writeError(w, http.StatusServiceUnavailable, "preferences are disabled")
		return
	}
	client := strings.TrimSpace(r.URL.Query().Get("client"))
	if client == "" {
		writeError(w, http.StatusBadRequest, "missing client")
		return
	}
	var body languagePreference
	if err := decodeBody(w, r, 4<<10, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !gemini.SupportedLanguage(body.Language) {
		writeError(w, http.StatusBadRequest, "unsupported language")
		return
	}
	if err := s.opts.Preferences.SetLanguage(r.Context(), client, body.Language); err != nil {
		s.logger.Error().Err(err).Str("client", client).Msg("failed to store language")
		writeError(w, http.StatusInternalServerError, "failed to store preference")
		return
	}
	writeJSON(w, http.StatusOK, languagePreference{Client: client, Language: body.Language})
}

func (s *Server) handleListConsultations(w http.ResponseWriter, r *http.Request) {
	if s.opts.Archive == nil {
		writeError(w, http.StatusNotFound, "archive is disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	list, err := s.opts.Archive.List(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list consultations")
		writeError(w, http.StatusInternalServerError, "failed to list consultations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consultations": list})
}

func (s *Server) handleConsultationTurns(w http.ResponseWriter, r *http.Request) {
	if s.opts.Archive == nil {
		writeError(w, http.StatusNotFound, "archive is disabled")
		return
	}
	id := r.PathValue("id")
	turns, err := s.opts.Archive.Turns(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("failed to read transcript")
		writeError(w, http.StatusInternalServerError, "failed to read transcript")
		return
	}
	if len(turns) == 0 {
		writeError(w, http.StatusNotFound, "consultation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "turns": turns})
}
