package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5/middleware"

	office2pdf "github.com/alnah/go-office2pdf"
	"github.com/alnah/go-office2pdf/internal/journal"
)

// journalTimeout bounds the journal write that follows each conversion.
const journalTimeout = 5 * time.Second

// statusClientClosedRequest is the nginx convention for a request whose
// client disconnected. Nobody reads the body; it only shows in access logs.
const statusClientClosedRequest = 499

// handleConvert accepts one multipart upload in the "file" field and answers
// with the PDF.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	file, header, err := s.formFile(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg := fmt.Sprintf("File too large (limit %d MB)", s.maxUpload>>20)
			s.reject(r, &journal.Entry{Error: msg}, start)
			writeJSONError(w, msg, http.StatusRequestEntityTooLarge)
			return
		}
		s.reject(r, &journal.Entry{Error: err.Error()}, start)
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	entry := &journal.Entry{Filename: header.Filename, InputBytes: header.Size}

	kind, err := office2pdf.KindFromFilename(header.Filename)
	if err != nil {
		msg := unsupportedMessage(header.Filename)
		entry.Error = msg
		s.reject(r, entry, start)
		writeJSONError(w, msg, http.StatusBadRequest)
		return
	}
	entry.Kind = kind.String()
	entry.ContentType = sniff(file)

	result, err := s.conv.Convert(r.Context(), office2pdf.ConversionRequest{
		Filename: header.Filename,
		Kind:     kind,
		Body:     file,
	})
	entry.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		s.fail(w, r, entry, err)
		return
	}

	entry.Status = journal.StatusSucceeded
	entry.OutputBytes = int64(len(result.PDF))
	entry.Pages = result.Pages
	entry.Worker = string(result.Worker)
	s.record(r, entry)

	s.logger.Info("converted",
		"filename", header.Filename,
		"kind", entry.Kind,
		"content_type", entry.ContentType,
		"worker", entry.Worker,
		"pages", result.Pages,
		"bytes", len(result.PDF),
		"duration", result.Duration,
	)

	h := w.Header()
	h.Set("Content-Type", "application/pdf")
	h.Set("Content-Disposition", contentDisposition(result.Filename))
	h.Set("Content-Length", strconv.Itoa(len(result.PDF)))
	if result.Pages > 0 {
		h.Set("X-Page-Count", strconv.Itoa(result.Pages))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.PDF)
}

// formFile extracts the "file" part. A part sent without a filename is parsed
// as a plain form value, which distinguishes "No selected file" from
// "No file part".
func (s *Server) formFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, err
		}
		return nil, nil, errors.New("No file part")
	}

	file, header, err := r.FormFile("file")
	if err == nil {
		if strings.TrimSpace(header.Filename) == "" {
			file.Close()
			return nil, nil, errors.New("No selected file")
		}
		return file, header, nil
	}
	if _, ok := r.MultipartForm.Value["file"]; ok {
		return nil, nil, errors.New("No selected file")
	}
	return nil, nil, errors.New("No file part")
}

// fail answers a conversion error and records it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, entry *journal.Entry, err error) {
	stage := office2pdf.StageOf(err)
	entry.Stage = string(stage)
	entry.Error = err.Error()

	if office2pdf.IsClientError(err) {
		entry.Status = journal.StatusRejected
		s.record(r, entry)
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if errors.Is(err, context.Canceled) {
		entry.Status = journal.StatusCanceled
		s.record(r, entry)
		s.logger.Info("client went away",
			"filename", entry.Filename,
			"kind", entry.Kind,
			"stage", entry.Stage,
		)
		writeJSON(w, statusClientClosedRequest, errorBody{Error: "Request canceled", Stage: entry.Stage})
		return
	}

	entry.Status = journal.StatusFailed
	s.record(r, entry)

	code := http.StatusInternalServerError
	if errors.Is(err, office2pdf.ErrPoolClosed) {
		code = http.StatusServiceUnavailable
	} else {
		s.reporter.Report(r.Context(), err, map[string]string{
			"kind":       entry.Kind,
			"stage":      entry.Stage,
			"request_id": middleware.GetReqID(r.Context()),
		})
	}

	s.logger.Error("conversion failed",
		"filename", entry.Filename,
		"kind", entry.Kind,
		"stage", entry.Stage,
		"error", err,
	)
	writeJSON(w, code, errorBody{Error: err.Error(), Stage: entry.Stage})
}

// reject records a request refused before conversion.
func (s *Server) reject(r *http.Request, entry *journal.Entry, start time.Time) {
	entry.Status = journal.StatusRejected
	entry.Stage = string(office2pdf.StageValidate)
	entry.DurationMS = time.Since(start).Milliseconds()
	s.record(r, entry)
	s.logger.Warn("request rejected", "filename", entry.Filename, "error", entry.Error)
}

func (s *Server) record(r *http.Request, entry *journal.Entry) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), journalTimeout)
	defer cancel()
	if err := s.journal.Record(ctx, entry); err != nil {
		s.logger.Error("journal write failed", "filename", entry.Filename, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthBody{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Workers: s.conv.Workers(),
		Leases:  s.conv.Stats(),
	})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSONError(w, "Journal disabled", http.StatusNotFound)
		return
	}

	limit := journal.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("journal read failed", "error", err)
		writeJSONError(w, "Journal unavailable", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleJournalStats(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSONError(w, "Journal disabled", http.StatusNotFound)
		return
	}
	st, err := s.journal.Stats(r.Context())
	if err != nil {
		s.logger.Error("journal read failed", "error", err)
		writeJSONError(w, "Journal unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// sniff detects the upload's content type and rewinds the file.
func sniff(file multipart.File) string {
	mtype, err := mimetype.DetectReader(file)
	if _, serr := file.Seek(0, io.SeekStart); serr != nil || err != nil {
		return ""
	}
	return mtype.String()
}

func unsupportedMessage(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = "(none)"
	}
	return "Unsupported file type: " + ext
}
