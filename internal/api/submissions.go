package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/mail"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/proexhq/letterforge/internal/letters"
	"github.com/proexhq/letterforge/internal/metrics"
)

const (
	maxUploadMemory = 32 << 20
	maxUploadBytes  = 20 << 20
	maxTestimonials = 10
	enqueueTimeout  = 5 * time.Second
	mimePDF         = "application/pdf"
	mimeDOCX        = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// requiredSlots must each carry exactly one PDF.
var requiredSlots = []letters.UploadKind{letters.UploadQuadro, letters.UploadCV}

// optionalSlots may be omitted.
var optionalSlots = []letters.UploadKind{letters.UploadStrategy, letters.UploadOneNote}

func (s *Server) createSubmission(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	email := strings.TrimSpace(r.FormValue("email"))
	if _, err := mail.ParseAddress(email); err != nil {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}
	numTestimonials, err := strconv.Atoi(r.FormValue("number_of_testimonials"))
	if err != nil || numTestimonials < 1 || numTestimonials > maxTestimonials {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("number_of_testimonials must be between 1 and %d", maxTestimonials))
		return
	}

	id, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate submission id")
		return
	}
	token, err := s.idGen.NewToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate access token")
		return
	}

	docs, err := s.storeUploads(r, id, numTestimonials)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub := letters.Submission{
		ID:              id,
		OwnerEmail:      email,
		AccessToken:     token,
		Status:          letters.StatusReceived,
		NumTestimonials: numTestimonials,
		Submitted:       s.clock.Now(),
	}
	if err := s.subs.CreateSubmission(r.Context(), sub); err != nil {
		s.logger.Error("create submission failed", zap.String("submission_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create submission")
		return
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	item := letters.QueueItem{
		SubmissionID: id,
		Documents:    docs,
		Submitted:    sub.Submitted.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		s.logger.Error("enqueue submission failed", zap.String("submission_id", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "processing queue is full")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"submission_id": id,
		"access_token":  token,
		"status":        string(letters.StatusReceived),
	})
}

// storeUploads validates the expected multipart slots and persists each PDF.
func (s *Server) storeUploads(r *http.Request, id string, numTestimonials int) ([]letters.UploadedDocument, error) {
	var docs []letters.UploadedDocument

	store := func(field string, kind letters.UploadKind, index int, required bool) error {
		file, header, err := r.FormFile(field)
		if err != nil {
			if required {
				return fmt.Errorf("missing required file %q", field)
			}
			return nil
		}
		defer func() { _ = file.Close() }()

		data, err := readUpload(file, header)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		blobPath := fmt.Sprintf("%s/uploads/%s.pdf", id, field)
		uri, err := s.blobs.PutObject(r.Context(), blobPath, mimePDF, data)
		if err != nil {
			return fmt.Errorf("store %s: %w", field, err)
		}
		metrics.ObserveUpload(string(kind), len(data))
		docs = append(docs, letters.UploadedDocument{
			Kind:  kind,
			Index: index,
			Name:  header.Filename,
			Path:  blobPath,
			URI:   uri,
		})
		return nil
	}

	for _, kind := range requiredSlots {
		if err := store(string(kind), kind, 0, true); err != nil {
			return nil, err
		}
	}
	for _, kind := range optionalSlots {
		if err := store(string(kind), kind, 0, false); err != nil {
			return nil, err
		}
	}
	for i := 1; i <= numTestimonials; i++ {
		field := fmt.Sprintf("testimonial_%d", i)
		if err := store(field, letters.UploadTestimonial, i, true); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func readUpload(file multipart.File, header *multipart.FileHeader) ([]byte, error) {
	if !strings.EqualFold(path.Ext(header.Filename), ".pdf") {
		return nil, errors.New("only PDF uploads are accepted")
	}
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty upload")
	}
	if len(data) > maxUploadBytes {
		return nil, fmt.Errorf("upload exceeds %d bytes", maxUploadBytes)
	}
	return data, nil
}

func (s *Server) listSubmissions(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "email query parameter is required")
		return
	}
	subs, err := s.subs.ListSubmissions(r.Context(), email)
	if err != nil {
		s.logger.Error("list submissions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list submissions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}

func (s *Server) getSubmission(w http.ResponseWriter, r *http.Request) {
	sub := submissionFrom(r)
	resp := map[string]any{"submission": sub}
	if sub.Status == letters.StatusCompleted && sub.ProcessedData != nil {
		files := make([]map[string]any, 0, len(sub.ProcessedData.Letters))
		for i, rec := range sub.ProcessedData.Letters {
			entry := map[string]any{
				"letter_index": i,
				"recommender":  rec.Recommender,
				"template_id":  rec.TemplateID,
				"has_logo":     rec.HasLogo,
			}
			if rec.PDFURI != "" {
				entry["pdf"] = letterFilename(i, "pdf")
			}
			if rec.DOCXURI != "" {
				entry["docx"] = letterFilename(i, "docx")
			}
			files = append(files, entry)
		}
		resp["files"] = files
	}
	writeJSON(w, http.StatusOK, resp)
}

// letterFilename is the public name for a rendered document; the blob key is
// derived from it in getFile.
func letterFilename(index int, ext string) string {
	return fmt.Sprintf("letter_%d.%s", index+1, ext)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	sub := submissionFrom(r)
	filename := chi.URLParam(r, "filename")
	ext := strings.TrimPrefix(path.Ext(filename), ".")
	if strings.Contains(filename, "/") || strings.Contains(filename, "..") ||
		(ext != "pdf" && ext != "docx") {
		writeError(w, http.StatusBadRequest, "only pdf and docx files are served")
		return
	}

	blobPath, ok := s.resolveLetterPath(sub, filename, ext)
	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	data, err := s.blobs.GetObject(r.Context(), blobPath)
	if err != nil {
		if errors.Is(err, letters.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("read file failed", zap.String("path", blobPath), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	contentType := mimePDF
	if ext == "docx" {
		contentType = mimeDOCX
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// resolveLetterPath maps a public letter_N.{pdf,docx} name to its blob key.
func (s *Server) resolveLetterPath(sub letters.Submission, filename, ext string) (string, bool) {
	if sub.ProcessedData == nil {
		return "", false
	}
	for i := range sub.ProcessedData.Letters {
		if filename != letterFilename(i, ext) {
			continue
		}
		uri := sub.ProcessedData.Letters[i].PDFURI
		if ext == "docx" {
			uri = sub.ProcessedData.Letters[i].DOCXURI
		}
		if uri == "" {
			return "", false
		}
		return blobKeyFromURI(uri, sub.ID), true
	}
	return "", false
}

// blobKeyFromURI recovers the store key from a backend URI. Every backend
// embeds the key verbatim, so slicing at the submission prefix is enough.
func blobKeyFromURI(uri, submissionID string) string {
	prefix := submissionID + "/"
	if idx := strings.Index(uri, prefix); idx >= 0 {
		return uri[idx:]
	}
	return uri
}

func (s *Server) downloadArchive(w http.ResponseWriter, r *http.Request) {
	sub := submissionFrom(r)
	objects, err := s.blobs.ListObjects(r.Context(), sub.ID+"/letters/")
	if err != nil {
		s.logger.Error("list outputs failed", zap.String("submission_id", sub.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list outputs")
		return
	}
	if len(objects) == 0 {
		writeError(w, http.StatusNotFound, "no generated letters available")
		return
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, obj := range objects {
		data, err := s.blobs.GetObject(r.Context(), obj)
		if err != nil {
			s.logger.Warn("skip missing output", zap.String("path", obj), zap.Error(err))
			continue
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     path.Base(obj),
			Method:   zip.Deflate,
			Modified: s.clock.Now(),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to build archive")
			return
		}
		if _, err := fw.Write(data); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to build archive")
			return
		}
	}
	if err := zw.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build archive")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "letters_"+sub.ID+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type ratingRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (s *Server) rateLetter(w http.ResponseWriter, r *http.Request) {
	sub := submissionFrom(r)
	index, err := strconv.Atoi(chi.URLParam(r, "letter_index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid letter index")
		return
	}
	if sub.ProcessedData == nil || index >= len(sub.ProcessedData.Letters) {
		writeError(w, http.StatusNotFound, "letter not found")
		return
	}

	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		writeError(w, http.StatusBadRequest, "rating must be between 1 and 5")
		return
	}

	id, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate rating id")
		return
	}
	rating := letters.LetterRating{
		ID:           id,
		SubmissionID: sub.ID,
		LetterIndex:  index,
		TemplateID:   sub.ProcessedData.Letters[index].TemplateID,
		Rating:       req.Rating,
		Comment:      req.Comment,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.subs.SaveRating(r.Context(), rating); err != nil {
		s.logger.Error("save rating failed", zap.String("submission_id", sub.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save rating")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"rating": rating})
}

func (s *Server) listRatings(w http.ResponseWriter, r *http.Request) {
	sub := submissionFrom(r)
	ratings, err := s.subs.ListRatings(r.Context(), sub.ID)
	if err != nil {
		s.logger.Error("list ratings failed", zap.String("submission_id", sub.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list ratings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ratings": ratings})
}

func (s *Server) templateAnalytics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.subs.TemplateAnalytics(r.Context())
	if err != nil {
		s.logger.Error("template analytics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute analytics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": stats})
}
