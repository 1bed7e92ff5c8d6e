// Package server implements the HTTP image service: it lists and serves the
// stored images, accepts multipart uploads guarded by a content digest index,
// and deletes images on request.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Urpagin/DynamicWallpaper/internal/activation"
	"github.com/Urpagin/DynamicWallpaper/internal/config"
	"github.com/Urpagin/DynamicWallpaper/internal/imagefile"
	"github.com/Urpagin/DynamicWallpaper/internal/index"
)

const (
	// uploadField is the multipart field name the upload endpoint reads.
	uploadField = "wallpaper"

	// maxUploadBytes caps a single upload at 30 MiB. The limit is enforced
	// chunk by chunk while streaming, so an oversized body is cut off long
	// before it is fully received.
	maxUploadBytes int64 = 30 << 20

	// spoolChunkBytes is the copy buffer size used while spooling uploads.
	spoolChunkBytes = 32 << 10

	shutdownGrace = 5 * time.Second
)

// ErrFileTooLarge is returned while spooling an upload whose cumulative
// size crosses maxUploadBytes.
var ErrFileTooLarge = errors.New("file exceeds the upload size limit")

// Server exposes the image directory over HTTP.
type Server struct {
	cfg    *config.Config
	idx    *index.Index
	logger *slog.Logger
}

// New creates a server around an already-built digest index.
func New(cfg *config.Config, idx *index.Index, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		idx:    idx,
		logger: logger,
	}
}

// Handler returns the route table. It is split from Start so tests can
// drive the mux without binding a socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /images", s.handleList)
	mux.HandleFunc("GET /images/{filename}", s.handleImage)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("DELETE /delete/{filename}", s.handleDelete)
	return mux
}

// Start runs the HTTP server until ctx is cancelled or the listener fails.
// Cancellation triggers a graceful shutdown that lets in-flight requests
// finish within shutdownGrace.
func (s *Server) Start(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return fmt.Errorf("failed to bind listener: %w", err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       5 * time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("image server listening",
			"addr", listener.Addr().String(),
			"image_dir", s.cfg.Server.ImageDir,
			"indexed_files", s.idx.Len())
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down image server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("image server failed: %w", err)
	}
}

// listen prefers a systemd-activated socket and falls back to binding the
// configured address.
func (s *Server) listen() (net.Listener, error) {
	listener, err := activation.First()
	if err != nil {
		return nil, err
	}
	if listener != nil {
		s.logger.Info("using systemd-activated socket", "addr", listener.Addr().String())
		return listener, nil
	}
	return net.Listen("tcp", s.cfg.Server.ListenAddr)
}

// handleHome serves the static upload page.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.cfg.Server.AssetsDir, "index.html"))
}

// handleList returns the catalog of stored images as {"images": [...]}.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	names, err := imagefile.ListDir(s.cfg.Server.ImageDir)
	if err != nil {
		s.logger.Error("failed to list image directory", "dir", s.cfg.Server.ImageDir, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list images")
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"images": names})
}

// handleImage streams a stored image back to the client.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if !servableName(name) {
		s.writeError(w, http.StatusNotFound, "Image not found")
		return
	}

	file, err := os.Open(filepath.Join(s.cfg.Server.ImageDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			s.writeError(w, http.StatusNotFound, "Image not found")
			return
		}
		s.logger.Error("failed to open image", "file", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to read image")
		return
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		s.writeError(w, http.StatusNotFound, "Image not found")
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(name))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	if _, err := io.Copy(w, file); err != nil {
		s.logger.Warn("image transfer aborted", "file", name, "error", err)
	}
}

// handleUpload accepts a multipart upload, spools it to a hidden temp file
// in the image directory while hashing it, and keeps it only if the digest
// index has never seen the content. Duplicates are discarded and still
// reported as a successful upload.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		s.logger.Warn("rejected upload: not a multipart form", "error", err)
		s.writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	part, err := reader.NextPart()
	if err != nil {
		s.logger.Warn("rejected upload: empty form", "error", err)
		s.writeError(w, http.StatusBadRequest, "Missing upload field")
		return
	}
	defer func() { _ = part.Close() }()

	if part.FormName() != uploadField {
		s.logger.Warn("rejected upload: unexpected field", "field", part.FormName())
		s.writeError(w, http.StatusUnsupportedMediaType, "File is not an image")
		return
	}

	declared := part.FileName()
	if declared == "" || !imagefile.IsImageFile(declared) {
		s.logger.Warn("rejected upload: not an image", "declared", declared)
		s.writeError(w, http.StatusUnsupportedMediaType, "File is not an image")
		return
	}

	storageName, err := imagefile.NewStorageName(declared)
	if err != nil {
		if errors.Is(err, imagefile.ErrNameTooLong) {
			s.logger.Warn("rejected upload: filename too long", "declared", declared)
			s.writeError(w, http.StatusBadRequest, "Filename is too long")
			return
		}
		s.logger.Error("failed to derive storage name", "declared", declared, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	spooled, err := s.spool(part)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			s.logger.Warn("rejected upload: too large", "declared", declared)
			s.writeError(w, http.StatusRequestEntityTooLarge, "File is too large")
			return
		}
		s.logger.Error("failed to spool upload", "declared", declared, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	if !s.idx.Reserve(spooled.hash) {
		_ = os.Remove(spooled.path)
		s.logger.Info("duplicate upload discarded", "declared", declared, "digest", spooled.hash)
		s.writeMessage(w, http.StatusOK, "File uploaded successfully")
		return
	}

	if err := os.Rename(spooled.path, filepath.Join(s.cfg.Server.ImageDir, storageName)); err != nil {
		s.idx.Release(spooled.hash)
		_ = os.Remove(spooled.path)
		s.logger.Error("failed to finalize upload", "file", storageName, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}
	s.idx.Commit(storageName, spooled.hash)

	s.logger.Info("image uploaded",
		"file", storageName,
		"declared", declared,
		"size_bytes", spooled.size,
		"digest", spooled.hash)
	s.writeMessage(w, http.StatusOK, "File uploaded successfully")
}

// handleDelete removes a stored image. A missing image is reported in the
// body but still answers 200.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if !servableName(name) {
		s.writeError(w, http.StatusOK, "Image not found")
		return
	}

	if err := os.Remove(filepath.Join(s.cfg.Server.ImageDir, name)); err != nil {
		if os.IsNotExist(err) {
			s.writeError(w, http.StatusOK, "Image not found")
			return
		}
		s.logger.Error("failed to delete image", "file", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to delete image")
		return
	}

	// Release the digest only after the entry is gone from disk.
	s.idx.Remove(name)
	s.logger.Info("image deleted", "file", name)
	s.writeMessage(w, http.StatusOK, "Image deleted successfully")
}

// spooledFile is an upload staged under a hidden temp name in the image
// directory, with its content digest computed during the copy.
type spooledFile struct {
	path string
	hash string
	size int64
}

// spool streams part into a temp file next to its final location, hashing
// as it copies. The cumulative size is checked after every chunk; crossing
// maxUploadBytes aborts the stream and removes the partial file.
func (s *Server) spool(part io.Reader) (*spooledFile, error) {
	tmp, err := os.CreateTemp(s.cfg.Server.ImageDir, ".dynwall-upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	digest := sha256.New()
	out := io.MultiWriter(tmp, digest)

	var size int64
	buf := make([]byte, spoolChunkBytes)
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			size += int64(n)
			if size > maxUploadBytes {
				abortSpool(tmp)
				return nil, ErrFileTooLarge
			}
			if _, err := out.Write(buf[:n]); err != nil {
				abortSpool(tmp)
				return nil, fmt.Errorf("failed to write upload: %w", err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			abortSpool(tmp)
			return nil, fmt.Errorf("failed to read upload: %w", readErr)
		}
	}

	if err := tmp.Chmod(0644); err != nil {
		abortSpool(tmp)
		return nil, fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	return &spooledFile{
		path: tmp.Name(),
		hash: hex.EncodeToString(digest.Sum(nil)),
		size: size,
	}, nil
}

func abortSpool(tmp *os.File) {
	_ = tmp.Close()
	_ = os.Remove(tmp.Name())
}

// servableName reports whether a path value names a plain, visible file
// directly inside the image directory.
func servableName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return name == filepath.Base(name)
}

// contentTypeFor guesses a Content-Type from the file extension.
func contentTypeFor(name string) string {
	if ctype := mime.TypeByExtension(filepath.Ext(name)); ctype != "" {
		return ctype
	}
	return "application/octet-stream"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeMessage(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"message": msg})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
