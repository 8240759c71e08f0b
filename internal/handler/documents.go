package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/store"
)

const maxUploadBytes = 20 << 20

var (
	errEmptyDocument   = errors.New("document content is empty")
	errUnsupportedType = errors.New("unsupported file type")
)

type uploadFailure struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

type uploadResponse struct {
	Processed []model.Document `json:"processed_files"`
	Failed    []uploadFailure  `json:"failed_files"`
}

func (h *Handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.ListDocuments()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleUploadDocument accepts one or more text files in the "documents"
// (or "document") multipart fields, or a plain "content" form field. Each
// file is stored on its own; the response lists which ones failed.
func (h *Handler) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", err)
		return
	}
	topic := strings.TrimSpace(r.FormValue("topic"))

	var files []*multipart.FileHeader
	if r.MultipartForm != nil {
		files = append(files, r.MultipartForm.File["documents"]...)
		files = append(files, r.MultipartForm.File["document"]...)
	}

	resp := uploadResponse{Processed: []model.Document{}, Failed: []uploadFailure{}}
	if len(files) == 0 {
		doc := model.Document{Name: r.FormValue("name"), Topic: topic, Content: r.FormValue("content")}
		if doc.Name == "" {
			doc.Name = "untitled"
		}
		stored, err := h.storeDocument(r.Context(), doc)
		if errors.Is(err, errEmptyDocument) {
			writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", err)
			return
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
		resp.Processed = append(resp.Processed, stored)
		writeJSON(w, http.StatusCreated, resp)
		return
	}

	for _, fh := range files {
		content, err := readUpload(fh)
		var stored model.Document
		if err == nil {
			stored, err = h.storeDocument(r.Context(), model.Document{Name: fh.Filename, Topic: topic, Content: content})
		}
		if err != nil {
			slog.Warn("document rejected", "file", fh.Filename, "error", err)
			resp.Failed = append(resp.Failed, uploadFailure{File: fh.Filename, Error: err.Error()})
			continue
		}
		resp.Processed = append(resp.Processed, stored)
	}

	status := http.StatusCreated
	if len(resp.Processed) == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func readUpload(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errEmptyDocument
	}
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return string(data), nil
		}
	}
	return "", fmt.Errorf("%w: %s", errUnsupportedType, mt.String())
}

// storeDocument splits doc into chunks, embeds them when an embedder is
// configured and stores the lot.
func (h *Handler) storeDocument(ctx context.Context, doc model.Document) (model.Document, error) {
	texts := store.SplitText(doc.Content, store.ChunkSize, store.ChunkOverlap)
	if len(texts) == 0 {
		return doc, errEmptyDocument
	}
	chunks := make([]model.Chunk, len(texts))
	vectors := h.embed(ctx, texts)
	for i, t := range texts {
		chunks[i] = model.Chunk{Seq: i, Text: t}
		if vectors != nil {
			chunks[i].Embedding = vectors[i]
		}
	}

	id, err := h.store.InsertDocumentChunks(doc, chunks)
	if err != nil {
		return doc, err
	}
	doc.ID = id
	doc.Chunks = len(chunks)
	slog.Info("document stored", "id", id, "name", doc.Name, "topic", doc.Topic,
		"bytes", len(doc.Content), "chunks", len(chunks), "embedded", vectors != nil)
	return doc, nil
}

// documentContext picks the stored chunks most relevant to a topic.
func (h *Handler) documentContext(ctx context.Context, topic string) (string, error) {
	var query []float32
	if vectors := h.embed(ctx, []string{topic}); vectors != nil {
		query = vectors[0]
	}
	return h.store.DocumentContext(topic, query, h.config.DocumentChunks, h.config.DocumentLimit)
}

// embed returns one vector per text, or nil when no embedder is configured
// or it fails. Retrieval then ranks by topic words instead.
func (h *Handler) embed(ctx context.Context, texts []string) [][]float32 {
	if h.embedder == nil {
		return nil
	}
	vectors, err := h.embedder.Embed(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("got %d vectors for %d texts", len(vectors), len(texts))
	}
	if err != nil {
		slog.Warn("embedding failed, ranking documents by topic words", "texts", len(texts), "error", err)
		return nil
	}
	return vectors
}
